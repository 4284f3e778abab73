package grades

import (
	"fmt"
	"time"
)

// State is the current grade of one participant on one opportunity, as
// reconstructed from its change log.
type State struct {
	// Opportunity is nil until the first change has been consumed.
	Opportunity *Opportunity

	// State is empty when no state applies (nothing consumed, or after a
	// do-over).
	State ChangeState

	DueTime        *time.Time
	LastGradedTime *time.Time
	LastReportTime *time.Time

	// ValidPercentages holds one entry per contribution: ungrouped graded
	// changes in log order, then the latest change of each attempt.
	ValidPercentages []float64
}

// Percentage aggregates ValidPercentages with the opportunity's strategy.
// It reports false when there is nothing to aggregate.
func (s State) Percentage() (float64, bool) {
	if s.Opportunity == nil || len(s.ValidPercentages) == 0 {
		return 0, false
	}
	p := s.ValidPercentages
	switch s.Opportunity.AggregationStrategy {
	case AggregateMax:
		m := p[0]
		for _, v := range p[1:] {
			if v > m {
				m = v
			}
		}
		return m, true
	case AggregateMin:
		m := p[0]
		for _, v := range p[1:] {
			if v < m {
				m = v
			}
		}
		return m, true
	case AggregateAverage:
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		return sum / float64(len(p)), true
	case AggregateEarliest:
		return p[0], true
	case AggregateLatest:
		return p[len(p)-1], true
	}
	return 0, false
}

// Display renders the state the way grade books show it: "-", "(exempt)",
// "87.5%", "87.5% (/3)" or "(other state)". An unavailable opportunity
// renders like an ungraded one.
func (s State) Display() string {
	switch s.State {
	case "", StateUnavailable:
		return "-"
	case StateExempt:
		return "(exempt)"
	case StateGraded:
		pct, ok := s.Percentage()
		if !ok {
			return "-"
		}
		out := fmt.Sprintf("%.1f%%", pct)
		if n := len(s.ValidPercentages); n > 1 {
			out += fmt.Sprintf(" (/%d)", n)
		}
		return out
	}
	return "(other state)"
}

func (s State) clone() State {
	out := s
	if s.ValidPercentages != nil {
		out.ValidPercentages = append([]float64(nil), s.ValidPercentages...)
	}
	return out
}
