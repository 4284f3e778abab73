package gradestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-grades/internal/grades"
)

type memoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	opps    map[string]grades.Opportunity
	changes map[pairKey][]grades.Change
}

type pairKey struct{ opp, participant string }

// NewMemoryStore returns a Store kept in process memory, for tests and
// offline demos. now stamps changes recorded without a grade time; nil means
// time.Now.
func NewMemoryStore(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{
		now:     now,
		opps:    map[string]grades.Opportunity{},
		changes: map[pairKey][]grades.Change{},
	}
}

func (m *memoryStore) CreateOpportunity(_ context.Context, o grades.Opportunity) (grades.Opportunity, error) {
	o, err := prepareOpportunity(o, m.now())
	if err != nil {
		return grades.Opportunity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.opps[o.ID]; ok {
		return grades.Opportunity{}, ErrConflict
	}
	for _, other := range m.opps {
		if other.CourseID == o.CourseID && other.Identifier == o.Identifier {
			return grades.Opportunity{}, ErrConflict
		}
	}
	m.opps[o.ID] = o
	return o, nil
}

func (m *memoryStore) GetOpportunity(_ context.Context, id string) (grades.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.opps[id]
	if !ok {
		return grades.Opportunity{}, ErrNotFound
	}
	return o, nil
}

func (m *memoryStore) ListOpportunities(_ context.Context, courseID string) ([]grades.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grades.Opportunity
	for _, o := range m.opps {
		if o.CourseID == courseID {
			out = append(out, o)
		}
	}
	sortOpportunities(out)
	return out, nil
}

func (m *memoryStore) FindFlowOpportunity(_ context.Context, courseID, flowID string) (grades.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.opps {
		if o.CourseID == courseID && o.FlowID == flowID {
			return o, nil
		}
	}
	return grades.Opportunity{}, ErrNotFound
}

func (m *memoryStore) AppendChange(_ context.Context, c grades.Change, checks ...AppendCheck) (grades.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.opps[c.OpportunityID]; !ok {
		return grades.Change{}, ErrNotFound
	}
	k := pairKey{c.OpportunityID, c.ParticipantID}
	prior := m.changes[k]
	var latest *time.Time
	if len(prior) > 0 {
		t := prior[len(prior)-1].GradeTime
		latest = &t
	}
	c, err := prepareChange(c, m.now(), latest)
	if err != nil {
		return grades.Change{}, err
	}
	if err := runChecks(checks, prior, c); err != nil {
		return grades.Change{}, err
	}
	m.changes[k] = append(m.changes[k], c)
	return c, nil
}

func (m *memoryStore) ListChanges(_ context.Context, opportunityID, participantID string) ([]grades.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.changes[pairKey{opportunityID, participantID}]
	return append([]grades.Change(nil), log...), nil
}

func (m *memoryStore) ListParticipants(_ context.Context, opportunityID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.changes {
		if k.opp == opportunityID {
			out = append(out, k.participant)
		}
	}
	sort.Strings(out)
	return out, nil
}

// sortOpportunities orders by due time (unset last), then identifier.
func sortOpportunities(opps []grades.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i].DueTime, opps[j].DueTime
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return opps[i].Identifier < opps[j].Identifier
	})
}
