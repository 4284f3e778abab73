package grades

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSequence   = errors.New("grade changes reference more than one opportunity")
	ErrOutOfOrderEvent   = errors.New("grade change times are not strictly increasing")
	ErrGradeRejected     = errors.New("grade rejected")
	ErrGradeAfterDueDate = errors.New("cannot accept grade after due date")
	ErrUnknownState      = errors.New("unknown grade change state")
	ErrUnknownStrategy   = errors.New("unknown grade aggregation strategy")
)

// ReduceError reports which change stopped a reduction.
type ReduceError struct {
	Index    int    // position in the fed sequence
	ChangeID string // may be empty for unsaved changes
	Detail   string
	Err      error
}

func (e *ReduceError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.ChangeID != "" {
		return fmt.Sprintf("grade change %d (%s): %s", e.Index, e.ChangeID, msg)
	}
	return fmt.Sprintf("grade change %d: %s", e.Index, msg)
}

func (e *ReduceError) Unwrap() error { return e.Err }

// ValueError is returned when parsing an enum value fails. Allowed lists
// the accepted values.
type ValueError struct {
	Kind    string
	Value   string
	Allowed []string
	Err     error
}

func (e *ValueError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
	}
	return fmt.Sprintf("invalid %s %q (one of %s)", e.Kind, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *ValueError) Unwrap() error { return e.Err }

// Kind returns a stable short name for a reduction error, suitable for API
// responses. It returns "" for errors that did not come from this package.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSequence):
		return "invalid_sequence"
	case errors.Is(err, ErrOutOfOrderEvent):
		return "out_of_order_event"
	case errors.Is(err, ErrGradeRejected):
		return "grade_rejected"
	case errors.Is(err, ErrGradeAfterDueDate):
		return "grade_after_due_date"
	case errors.Is(err, ErrUnknownState):
		return "unknown_state"
	case errors.Is(err, ErrUnknownStrategy):
		return "unknown_strategy"
	}
	return ""
}
