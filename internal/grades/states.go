package grades

import "strings"

// ChangeState is the kind of a grade change. The zero value means "no state"
// and is only ever seen on a State, never on a valid Change.
type ChangeState string

const (
	StateGradingStarted ChangeState = "grading_started"
	StateGraded         ChangeState = "graded"
	StateRetrieved      ChangeState = "retrieved"
	StateUnavailable    ChangeState = "unavailable"
	StateExtension      ChangeState = "extension"
	StateReportSent     ChangeState = "report_sent"
	StateDoOver         ChangeState = "do_over"
	StateExempt         ChangeState = "exempt"
)

// ChangeStates lists every known change state in display order.
var ChangeStates = []ChangeState{
	StateGradingStarted,
	StateGraded,
	StateRetrieved,
	StateUnavailable,
	StateExtension,
	StateReportSent,
	StateDoOver,
	StateExempt,
}

// Label is the human readable name used by grade book views.
func (s ChangeState) Label() string {
	switch s {
	case StateGradingStarted:
		return "Grading started"
	case StateGraded:
		return "Graded"
	case StateRetrieved:
		return "Retrieved"
	case StateUnavailable:
		return "Unavailable"
	case StateExtension:
		return "Extension"
	case StateReportSent:
		return "Report sent"
	case StateDoOver:
		return "Do-over"
	case StateExempt:
		return "Exempt"
	}
	return ""
}

func (s ChangeState) Valid() bool { return s.Label() != "" }

func ParseChangeState(v string) (ChangeState, error) {
	s := ChangeState(strings.TrimSpace(v))
	if !s.Valid() {
		return "", &ValueError{Kind: "change state", Value: v, Allowed: names(ChangeStates), Err: ErrUnknownState}
	}
	return s, nil
}

// AggregationStrategy decides how several valid percentages collapse into one.
type AggregationStrategy string

const (
	AggregateMax      AggregationStrategy = "max_grade"
	AggregateAverage  AggregationStrategy = "avg_grade"
	AggregateMin      AggregationStrategy = "min_grade"
	AggregateEarliest AggregationStrategy = "use_earliest"
	AggregateLatest   AggregationStrategy = "use_latest"
)

// AggregationStrategies lists every strategy in display order.
var AggregationStrategies = []AggregationStrategy{
	AggregateMax,
	AggregateAverage,
	AggregateMin,
	AggregateEarliest,
	AggregateLatest,
}

func (a AggregationStrategy) Label() string {
	switch a {
	case AggregateMax:
		return "Use the max grade"
	case AggregateAverage:
		return "Use the avg grade"
	case AggregateMin:
		return "Use the min grade"
	case AggregateEarliest:
		return "Use the earliest grade"
	case AggregateLatest:
		return "Use the latest grade"
	}
	return ""
}

func (a AggregationStrategy) Valid() bool { return a.Label() != "" }

// ParseAggregationStrategy accepts the stored names as well as the short
// aliases max, min, average/avg, earliest and latest.
func ParseAggregationStrategy(v string) (AggregationStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "max_grade", "max":
		return AggregateMax, nil
	case "avg_grade", "avg", "average":
		return AggregateAverage, nil
	case "min_grade", "min":
		return AggregateMin, nil
	case "use_earliest", "earliest":
		return AggregateEarliest, nil
	case "use_latest", "latest":
		return AggregateLatest, nil
	}
	return "", &ValueError{Kind: "aggregation strategy", Value: v, Allowed: names(AggregationStrategies), Err: ErrUnknownStrategy}
}

func names[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
