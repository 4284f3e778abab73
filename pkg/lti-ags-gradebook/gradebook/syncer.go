package gradebook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ScoreMaximum is the scale grades are posted on: scores are percentages.
const ScoreMaximum = 100

type Clock func() time.Time

type Syncer struct {
	Grades GradeSource
	Store  Store
	AGS    AGSClient
	Now    Clock
}

func New(grades GradeSource, store Store, ags AGSClient, now Clock) *Syncer {
	if now == nil {
		now = time.Now
	}
	return &Syncer{Grades: grades, Store: store, AGS: ags, Now: now}
}

// EnsureLineItem finds the platform line item for g's opportunity, reusing a
// stored one, then a matching one on the platform, and creating it otherwise.
func (s *Syncer) EnsureLineItem(ctx context.Context, g Grade, link LTILink) (GradebookLineItem, error) {
	if li, err := s.Store.FindLineItem(ctx, g.OpportunityID, link.PlatformIssuer, link.DeploymentID, link.ContextID); err == nil && li.LineItemURL != "" {
		return li, nil
	}
	if link.LineItemsURL == "" {
		return GradebookLineItem{}, errors.New("missing lineitems_url")
	}

	row := GradebookLineItem{
		OpportunityID: g.OpportunityID, PlatformIssuer: link.PlatformIssuer,
		DeploymentID: link.DeploymentID, ContextID: link.ContextID, ResourceLinkID: link.ResourceLinkID,
	}
	items, err := s.AGS.ListLineItems(ctx, link.LineItemsURL, map[string]string{
		"resource_id":      g.Identifier,
		"resource_link_id": link.ResourceLinkID,
	})
	if err == nil {
		for _, it := range items {
			if it.ResourceID == g.Identifier && it.ResourceLinkID == link.ResourceLinkID {
				row.Label, row.ScoreMax, row.LineItemURL = it.Label, it.ScoreMaximum, it.ID
				return s.Store.UpsertLineItem(ctx, row)
			}
		}
	}
	label := g.Name
	if label == "" {
		label = g.Identifier
	}
	created, err := s.AGS.CreateLineItem(ctx, link.LineItemsURL, CreateLineItemReq{
		Label: label, ScoreMaximum: ScoreMaximum, ResourceID: g.Identifier, ResourceLinkID: link.ResourceLinkID,
	})
	if err != nil {
		return GradebookLineItem{}, fmt.Errorf("create line item: %w", err)
	}
	row.Label, row.ScoreMax, row.LineItemURL = created.Label, created.ScoreMaximum, created.ID
	return s.Store.UpsertLineItem(ctx, row)
}

// SyncGrade posts the participant's current grade on oppID to the platform
// the opportunity's course is linked to.
func (s *Syncer) SyncGrade(ctx context.Context, oppID, participantID string) (Score, error) {
	g, err := s.Grades.PassbackGrade(ctx, oppID, participantID)
	if err != nil {
		return Score{}, err
	}
	_ = s.Store.MarkSyncPending(ctx, oppID, participantID)

	fail := func(err error) (Score, error) {
		if e := s.Store.MarkSyncFailed(ctx, oppID, participantID, err.Error()); e != nil {
			log.Printf("ags: mark sync failed opportunity=%s participant=%s: %v", oppID, participantID, e)
		}
		return Score{}, err
	}

	link, err := s.Store.GetLinkForCourse(ctx, g.CourseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(fmt.Errorf("%w: %s", ErrNoLink, g.CourseID))
		}
		return fail(err)
	}
	li, err := s.EnsureLineItem(ctx, g, link)
	if err != nil {
		return fail(err)
	}
	platformUserID, err := s.Store.GetPlatformUserID(ctx, link.PlatformIssuer, participantID)
	switch {
	case errors.Is(err, ErrNotFound), err == nil && platformUserID == "":
		return fail(fmt.Errorf("%w for %s", ErrNoUserMapping, participantID))
	case err != nil:
		return fail(fmt.Errorf("lookup platform user: %w", err))
	}

	score := Score{
		UserID:           platformUserID,
		ScoreMaximum:     ScoreMaximum,
		Comment:          g.Comment,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
		Timestamp:        s.Now().UTC(),
	}
	if g.Percentage != nil {
		pct := *g.Percentage
		score.ScoreGiven = &pct
	} else {
		score.ActivityProgress, score.GradingProgress = "Submitted", "Pending"
	}
	if err := s.AGS.PostScore(ctx, li.LineItemURL, score); err != nil {
		return fail(err)
	}
	if err := s.Store.MarkSyncOK(ctx, oppID, participantID); err != nil {
		return Score{}, err
	}
	log.Printf("ags: synced opportunity=%s participant=%s progress=%s", oppID, participantID, score.GradingProgress)
	return score, nil
}
