package grades

import "time"

// Result is the outcome of a reduction.
type Result struct {
	State

	// Superseded has an entry for every consumed change that carries an ID.
	// It is true for graded changes replaced by a later change of the same
	// attempt (only when superseded marking was requested).
	Superseded map[string]bool
}

// IsSuperseded reports whether the change with the given ID was superseded.
func (r Result) IsSuperseded(changeID string) bool { return r.Superseded[changeID] }

// Reducer folds grade changes one at a time. The zero value is not usable;
// construct it with NewReducer.
type Reducer struct {
	opp            Opportunity
	markSuperseded bool

	state    State
	consumed int
	lastTime time.Time

	// attempt grouping, local to the fold
	attemptOrder  []string
	attemptLatest map[string]Change

	superseded map[string]bool
}

func NewReducer(opp Opportunity, markSuperseded bool) *Reducer {
	return &Reducer{
		opp:            opp,
		markSuperseded: markSuperseded,
		attemptLatest:  map[string]Change{},
		superseded:     map[string]bool{},
	}
}

// Reduce folds changes, which must be ordered by strictly increasing grade
// time, into the current grade state for opp. Inputs are not modified.
func Reduce(opp Opportunity, changes []Change, markSuperseded bool) (Result, error) {
	r := NewReducer(opp, markSuperseded)
	for _, c := range changes {
		if err := r.Consume(c); err != nil {
			return Result{}, err
		}
	}
	return r.Result(), nil
}

// Consume applies one change. After an error the reducer must not be reused.
func (r *Reducer) Consume(c Change) error {
	idx := r.consumed
	fail := func(err error, detail string) error {
		return &ReduceError{Index: idx, ChangeID: c.ID, Detail: detail, Err: err}
	}

	if c.OpportunityID != r.opp.ID {
		return fail(ErrInvalidSequence, "expected "+r.opp.ID+", got "+c.OpportunityID)
	}
	if r.consumed > 0 && !c.GradeTime.After(r.lastTime) {
		return fail(ErrOutOfOrderEvent, c.GradeTime.Format(time.RFC3339Nano)+" is not after "+r.lastTime.Format(time.RFC3339Nano))
	}
	if r.state.Opportunity == nil {
		opp := r.opp
		r.state.Opportunity = &opp
		r.state.DueTime = opp.DueTime
	}

	switch c.State {
	case StateGraded:
		switch r.state.State {
		case StateUnavailable:
			return fail(ErrGradeRejected, "opportunity marked unavailable")
		case StateExempt:
			return fail(ErrGradeRejected, "opportunity marked exempt")
		}
		if r.state.DueTime != nil && c.GradeTime.After(*r.state.DueTime) {
			return fail(ErrGradeAfterDueDate, "")
		}
		r.state.State = StateGraded
		if c.AttemptID != "" {
			prev, seen := r.attemptLatest[c.AttemptID]
			if !seen {
				r.attemptOrder = append(r.attemptOrder, c.AttemptID)
			} else if r.markSuperseded && prev.ID != "" {
				r.superseded[prev.ID] = true
			}
			r.attemptLatest[c.AttemptID] = c
		} else if pct, ok := c.Percentage(); ok {
			r.state.ValidPercentages = append(r.state.ValidPercentages, pct)
		}
		t := c.GradeTime
		r.state.LastGradedTime = &t

	case StateUnavailable, StateExempt:
		r.clearGrades()
		r.state.State = c.State

	case StateDoOver:
		r.clearGrades()

	case StateReportSent:
		t := c.GradeTime
		r.state.LastReportTime = &t

	case StateExtension:
		r.state.DueTime = c.DueTime

	case StateGradingStarted, StateRetrieved:

	default:
		return fail(ErrUnknownState, string(c.State))
	}

	if c.ID != "" {
		if _, ok := r.superseded[c.ID]; !ok {
			r.superseded[c.ID] = false
		}
	}
	r.lastTime = c.GradeTime
	r.consumed++
	return nil
}

func (r *Reducer) clearGrades() {
	r.state.State = ""
	r.state.ValidPercentages = nil
	r.attemptOrder = nil
	r.attemptLatest = map[string]Change{}
}

// Consumed is the number of changes applied so far.
func (r *Reducer) Consumed() int { return r.consumed }

// Result finalizes a copy of the current state: each attempt contributes the
// percentage of its latest change. The reducer itself is left untouched and
// may keep consuming.
func (r *Reducer) Result() Result {
	st := r.state.clone()
	for _, id := range r.attemptOrder {
		if pct, ok := r.attemptLatest[id].Percentage(); ok {
			st.ValidPercentages = append(st.ValidPercentages, pct)
		}
	}
	sup := make(map[string]bool, len(r.superseded))
	for k, v := range r.superseded {
		sup[k] = v
	}
	return Result{State: st, Superseded: sup}
}
