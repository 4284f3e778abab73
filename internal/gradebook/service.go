// Package gradebook replays grade change logs into current grades and renders
// them for courses: single lookups, full grade books and CSV transcripts.
package gradebook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mind-engage/mindengage-grades/internal/cache"
	"github.com/mind-engage/mindengage-grades/internal/grades"
	"github.com/mind-engage/mindengage-grades/internal/gradestore"
	"github.com/mind-engage/mindengage-grades/internal/storage"
)

// Cache stores Grade summaries. Get returns cache.ErrMiss for absent keys.
// Incr bumps an integer counter, creating it at 1.
type Cache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

type Options struct {
	Cache          Cache             // optional
	Blobs          storage.BlobStore // needed for transcript export
	Workers        int               // parallel reductions for grade books
	MarkSuperseded bool
	Now            func() time.Time
}

type Service struct {
	store          gradestore.Store
	cache          Cache
	blobs          storage.BlobStore
	workers        int
	markSuperseded bool
	now            func() time.Time
}

func NewService(store gradestore.Store, opts Options) *Service {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:          store,
		cache:          opts.Cache,
		blobs:          opts.Blobs,
		workers:        opts.Workers,
		markSuperseded: opts.MarkSuperseded,
		now:            opts.Now,
	}
}

// Grade is the presentation summary of a reduced grade state.
type Grade struct {
	OpportunityID    string             `json:"opportunity_id"`
	ParticipantID    string             `json:"participant_id"`
	State            grades.ChangeState `json:"state,omitempty"`
	Percentage       *float64           `json:"percentage,omitempty"`
	Display          string             `json:"display"`
	DueTime          *time.Time         `json:"due_time,omitempty"`
	LastGradedTime   *time.Time         `json:"last_graded_time,omitempty"`
	LastReportTime   *time.Time         `json:"last_report_time,omitempty"`
	ValidPercentages []float64          `json:"valid_percentages"`
	Changes          int                `json:"changes"`
}

func summarize(oppID, participantID string, res grades.Result, n int) Grade {
	g := Grade{
		OpportunityID:    oppID,
		ParticipantID:    participantID,
		State:            res.State.State,
		Display:          res.Display(),
		DueTime:          res.DueTime,
		LastGradedTime:   res.LastGradedTime,
		LastReportTime:   res.LastReportTime,
		ValidPercentages: res.ValidPercentages,
		Changes:          n,
	}
	if g.ValidPercentages == nil {
		g.ValidPercentages = []float64{}
	}
	if pct, ok := res.Percentage(); ok {
		g.Percentage = &pct
	}
	return g
}

// AnnotatedChange is a logged change with its supersession flag.
type AnnotatedChange struct {
	grades.Change
	Superseded bool `json:"superseded"`
}

func cacheKey(oppID, participantID string) string { return oppID + "/" + participantID }

// versionKey counts writes to a pair. A cached summary is served only while
// the count it was computed under is still current.
func versionKey(oppID, participantID string) string { return "v/" + oppID + "/" + participantID }

type cachedGrade struct {
	Version int64 `json:"version"`
	Grade   Grade `json:"grade"`
}

func (s *Service) Opportunity(ctx context.Context, id string) (grades.Opportunity, error) {
	return s.store.GetOpportunity(ctx, id)
}

func (s *Service) CreateOpportunity(ctx context.Context, o grades.Opportunity) (grades.Opportunity, error) {
	return s.store.CreateOpportunity(ctx, o)
}

func (s *Service) EnsureFlowOpportunity(ctx context.Context, courseID, flowID string, desc gradestore.FlowDesc) (grades.Opportunity, bool, error) {
	return gradestore.EnsureFlowOpportunity(ctx, s.store, courseID, flowID, desc)
}

// replay loads the pair's log and reduces it.
func (s *Service) replay(ctx context.Context, opp grades.Opportunity, participantID string) ([]grades.Change, grades.Result, error) {
	changes, err := s.store.ListChanges(ctx, opp.ID, participantID)
	if err != nil {
		return nil, grades.Result{}, fmt.Errorf("list changes: %w", err)
	}
	res, err := grades.Reduce(opp, changes, s.markSuperseded)
	if err != nil {
		return changes, grades.Result{}, err
	}
	return changes, res, nil
}

// RecordChange appends c after checking that the log still reduces with it,
// so grades after a due date or on exempt opportunities are refused at write
// time. The check runs inside the store's append, against the log the change
// actually extends.
func (s *Service) RecordChange(ctx context.Context, c grades.Change) (grades.Change, error) {
	opp, err := s.store.GetOpportunity(ctx, c.OpportunityID)
	if err != nil {
		return grades.Change{}, err
	}
	saved, err := s.store.AppendChange(ctx, c, func(prior []grades.Change, next grades.Change) error {
		r := grades.NewReducer(opp, false)
		for _, prev := range prior {
			if err := r.Consume(prev); err != nil {
				return fmt.Errorf("stored log does not reduce: %w", err)
			}
		}
		return r.Consume(next)
	})
	if err != nil {
		return grades.Change{}, err
	}
	s.invalidate(ctx, opp.ID, c.ParticipantID)
	return saved, nil
}

// CurrentGrade returns the reduced grade of participantID on oppID.
func (s *Service) CurrentGrade(ctx context.Context, oppID, participantID string) (Grade, error) {
	key := cacheKey(oppID, participantID)
	version, cacheable := s.cacheVersion(ctx, oppID, participantID)
	if cacheable {
		var cg cachedGrade
		err := s.cache.Get(ctx, key, &cg)
		switch {
		case err == nil && cg.Version == version:
			return cg.Grade, nil
		case err != nil && !errors.Is(err, cache.ErrMiss):
			log.Printf("gradebook: cache get %s: %v", key, err)
		}
	}

	opp, err := s.store.GetOpportunity(ctx, oppID)
	if err != nil {
		return Grade{}, err
	}
	g, err := s.grade(ctx, opp, participantID)
	if err != nil {
		return Grade{}, err
	}
	if cacheable {
		if err := s.cache.Set(ctx, key, cachedGrade{Version: version, Grade: g}); err != nil {
			log.Printf("gradebook: cache set %s: %v", key, err)
		}
	}
	return g, nil
}

// cacheVersion reads the pair's write count before the log is loaded. A
// write landing during the replay bumps the count, so whatever the replay
// caches is never served.
func (s *Service) cacheVersion(ctx context.Context, oppID, participantID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	var v int64
	err := s.cache.Get(ctx, versionKey(oppID, participantID), &v)
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, cache.ErrMiss):
		return 0, true
	}
	log.Printf("gradebook: cache version %s/%s: %v", oppID, participantID, err)
	return 0, false
}

func (s *Service) grade(ctx context.Context, opp grades.Opportunity, participantID string) (Grade, error) {
	changes, res, err := s.replay(ctx, opp, participantID)
	if err != nil {
		if grades.Kind(err) != "" {
			log.Printf("gradebook: reduce opportunity=%s participant=%s: %v", opp.ID, participantID, err)
		}
		return Grade{}, err
	}
	return summarize(opp.ID, participantID, res, len(changes)), nil
}

// History returns the pair's change log with supersession flags, along with
// the grade it reduces to.
func (s *Service) History(ctx context.Context, oppID, participantID string) ([]AnnotatedChange, Grade, error) {
	opp, err := s.store.GetOpportunity(ctx, oppID)
	if err != nil {
		return nil, Grade{}, err
	}
	changes, res, err := s.replay(ctx, opp, participantID)
	if err != nil {
		return nil, Grade{}, err
	}
	out := make([]AnnotatedChange, len(changes))
	for i, c := range changes {
		out[i] = AnnotatedChange{Change: c, Superseded: res.IsSuperseded(c.ID)}
	}
	return out, summarize(opp.ID, participantID, res, len(changes)), nil
}

func (s *Service) invalidate(ctx context.Context, oppID, participantID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Incr(ctx, versionKey(oppID, participantID)); err != nil {
		log.Printf("gradebook: cache version bump %s/%s: %v", oppID, participantID, err)
	}
	key := cacheKey(oppID, participantID)
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Printf("gradebook: cache delete %s: %v", key, err)
	}
}
