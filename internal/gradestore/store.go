// Package gradestore persists grading opportunities and the append-only grade
// change log that the grades package replays.
package gradestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-grades/internal/grades"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrInvalidChange = errors.New("invalid grade change")
	ErrInvalidInput  = errors.New("invalid opportunity")
)

// AppendCheck vets a prepared change against the pair's stored log before it
// is written. Stores run checks inside the same critical section as the
// write, so prior is exactly the log the change will extend.
type AppendCheck func(prior []grades.Change, c grades.Change) error

func runChecks(checks []AppendCheck, prior []grades.Change, c grades.Change) error {
	for _, check := range checks {
		if err := check(prior, c); err != nil {
			return err
		}
	}
	return nil
}

// Store is the storage collaborator for grade reduction. ListChanges must
// return changes ordered by increasing grade time.
type Store interface {
	CreateOpportunity(ctx context.Context, o grades.Opportunity) (grades.Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (grades.Opportunity, error)
	ListOpportunities(ctx context.Context, courseID string) ([]grades.Opportunity, error)
	FindFlowOpportunity(ctx context.Context, courseID, flowID string) (grades.Opportunity, error)

	AppendChange(ctx context.Context, c grades.Change, checks ...AppendCheck) (grades.Change, error)
	ListChanges(ctx context.Context, opportunityID, participantID string) ([]grades.Change, error)
	ListParticipants(ctx context.Context, opportunityID string) ([]string, error)
}

var identifierRe = regexp.MustCompile(`^[a-z0-9_]+$`)

func prepareOpportunity(o grades.Opportunity, now time.Time) (grades.Opportunity, error) {
	o.CourseID = strings.TrimSpace(o.CourseID)
	o.Identifier = strings.TrimSpace(o.Identifier)
	o.Name = strings.TrimSpace(o.Name)
	if o.CourseID == "" {
		return o, fmt.Errorf("%w: course_id required", ErrInvalidInput)
	}
	if !identifierRe.MatchString(o.Identifier) {
		return o, fmt.Errorf("%w: identifier %q must be lower_case_with_underscores", ErrInvalidInput, o.Identifier)
	}
	if o.Name == "" {
		return o, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	strategy, err := grades.ParseAggregationStrategy(string(o.AggregationStrategy))
	if err != nil {
		return o, err
	}
	o.AggregationStrategy = strategy
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreationTime.IsZero() {
		o.CreationTime = now
	}
	return o, nil
}

// prepareChange validates c and fills in its ID and grade time. latest is the
// grade time of the newest stored change for the same pair, if any.
func prepareChange(c grades.Change, now time.Time, latest *time.Time) (grades.Change, error) {
	invalid := func(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidChange, msg) }

	if c.OpportunityID == "" || c.ParticipantID == "" {
		return c, invalid("opportunity_id and participant_id required")
	}
	st, err := grades.ParseChangeState(string(c.State))
	if err != nil {
		return c, err
	}
	c.State = st
	switch st {
	case grades.StateGraded:
		if c.MaxPoints <= 0 {
			return c, invalid("graded changes need max_points > 0")
		}
		if c.Points != nil && *c.Points < 0 {
			return c, invalid("points must not be negative")
		}
	case grades.StateExtension:
		if c.DueTime == nil {
			return c, invalid("extension needs due_time")
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.GradeTime.IsZero() {
		c.GradeTime = now
		if latest != nil && !c.GradeTime.After(*latest) {
			c.GradeTime = latest.Add(time.Microsecond)
		}
	} else if latest != nil && !c.GradeTime.After(*latest) {
		return c, fmt.Errorf("%w: grade_time %s is not after %s", grades.ErrOutOfOrderEvent,
			c.GradeTime.Format(time.RFC3339Nano), latest.Format(time.RFC3339Nano))
	}
	return c, nil
}

// FlowDesc is the part of a flow description needed to create its
// opportunity.
type FlowDesc struct {
	Title               string
	AggregationStrategy grades.AggregationStrategy
}

// FlowIdentifier is the opportunity identifier derived from a flow id.
func FlowIdentifier(flowID string) string {
	return "flow_" + strings.ToLower(strings.ReplaceAll(flowID, "-", "_"))
}

// EnsureFlowOpportunity returns the course's opportunity linked to flowID,
// creating it from desc when there is none yet.
func EnsureFlowOpportunity(ctx context.Context, s Store, courseID, flowID string, desc FlowDesc) (grades.Opportunity, bool, error) {
	o, err := s.FindFlowOpportunity(ctx, courseID, flowID)
	if err == nil {
		return o, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return grades.Opportunity{}, false, err
	}
	o, err = s.CreateOpportunity(ctx, grades.Opportunity{
		CourseID:            courseID,
		Identifier:          FlowIdentifier(flowID),
		Name:                "Flow: " + desc.Title,
		FlowID:              flowID,
		AggregationStrategy: desc.AggregationStrategy,
		ShownInGradeBook:    true,
	})
	if errors.Is(err, ErrConflict) {
		// lost a race with another creator
		o, err = s.FindFlowOpportunity(ctx, courseID, flowID)
		return o, false, err
	}
	if err != nil {
		return grades.Opportunity{}, false, err
	}
	return o, true, nil
}
