package gradebook

import (
	"context"
	"errors"

	"github.com/mind-engage/mindengage-grades/internal/gradestore"
	ags "github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
)

// PassbackGrade reports the current grade in the shape the AGS syncer posts.
func (s *Service) PassbackGrade(ctx context.Context, oppID, participantID string) (ags.Grade, error) {
	opp, err := s.store.GetOpportunity(ctx, oppID)
	if err != nil {
		if errors.Is(err, gradestore.ErrNotFound) {
			return ags.Grade{}, ags.ErrNotFound
		}
		return ags.Grade{}, err
	}
	g, err := s.CurrentGrade(ctx, oppID, participantID)
	if err != nil {
		return ags.Grade{}, err
	}
	return ags.Grade{
		OpportunityID: opp.ID,
		CourseID:      opp.CourseID,
		Identifier:    opp.Identifier,
		Name:          opp.Name,
		ParticipantID: participantID,
		Percentage:    g.Percentage,
		Comment:       g.Display,
	}, nil
}
