package grades_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grades/internal/grades"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func opp(strategy grades.AggregationStrategy) grades.Opportunity {
	return grades.Opportunity{
		ID:                  "opp-1",
		CourseID:            "course-1",
		Identifier:          "quiz_1",
		Name:                "Quiz 1",
		AggregationStrategy: strategy,
		ShownInGradeBook:    true,
	}
}

func pts(v float64) *float64 { return &v }

// logBuilder hands out changes with increasing grade times.
type logBuilder struct {
	n   int
	now time.Time
}

func newLog() *logBuilder { return &logBuilder{now: t0} }

func (b *logBuilder) next(state grades.ChangeState) grades.Change {
	b.n++
	b.now = b.now.Add(time.Minute)
	return grades.Change{
		ID:            fmt.Sprintf("c%d", b.n),
		OpportunityID: "opp-1",
		ParticipantID: "p-1",
		State:         state,
		GradeTime:     b.now,
	}
}

func (b *logBuilder) graded(points, max float64, attempt string) grades.Change {
	c := b.next(grades.StateGraded)
	c.Points = pts(points)
	c.MaxPoints = max
	c.AttemptID = attempt
	return c
}

func threeGrades() []grades.Change {
	b := newLog()
	return []grades.Change{
		b.graded(10, 10, ""),
		b.graded(5, 10, ""),
		b.graded(15, 20, ""),
	}
}

func TestReduce_AggregationStrategies(t *testing.T) {
	cases := []struct {
		strategy grades.AggregationStrategy
		want     float64
	}{
		{grades.AggregateAverage, 75},
		{grades.AggregateMax, 100},
		{grades.AggregateMin, 50},
		{grades.AggregateEarliest, 100},
		{grades.AggregateLatest, 75},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			res, err := grades.Reduce(opp(tc.strategy), threeGrades(), false)
			require.NoError(t, err)
			assert.Equal(t, []float64{100, 50, 75}, res.ValidPercentages)

			got, ok := res.Percentage()
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestReduce_Deterministic(t *testing.T) {
	b := newLog()
	changes := []grades.Change{
		b.next(grades.StateGradingStarted),
		b.graded(4, 10, "A"),
		b.graded(7, 10, ""),
		b.graded(9, 10, "A"),
		b.graded(3, 10, "B"),
		b.next(grades.StateReportSent),
	}
	first, err := grades.Reduce(opp(grades.AggregateAverage), changes, true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := grades.Reduce(opp(grades.AggregateAverage), changes, true)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []float64{70, 90, 30}, first.ValidPercentages)
}

func TestReducer_IncrementalMatchesBatch(t *testing.T) {
	b := newLog()
	e1, e2, e3 := b.graded(4, 10, "A"), b.graded(6, 10, ""), b.graded(8, 10, "A")

	r := grades.NewReducer(opp(grades.AggregateLatest), true)
	require.NoError(t, r.Consume(e1))
	require.NoError(t, r.Consume(e2))

	partial, err := grades.Reduce(opp(grades.AggregateLatest), []grades.Change{e1, e2}, true)
	require.NoError(t, err)
	assert.Equal(t, partial, r.Result())

	require.NoError(t, r.Consume(e3))
	full, err := grades.Reduce(opp(grades.AggregateLatest), []grades.Change{e1, e2, e3}, true)
	require.NoError(t, err)
	assert.Equal(t, full, r.Result())
	assert.Equal(t, 3, r.Consumed())
}

func TestReduce_ResetIdempotent(t *testing.T) {
	for _, reset := range []grades.ChangeState{grades.StateDoOver, grades.StateUnavailable, grades.StateExempt} {
		t.Run(string(reset), func(t *testing.T) {
			b := newLog()
			head := []grades.Change{b.graded(5, 10, ""), b.graded(6, 10, "A")}

			b1 := *b
			once, err := grades.Reduce(opp(grades.AggregateMax), append(append([]grades.Change{}, head...), b1.next(reset)), false)
			require.NoError(t, err)

			b2 := *b
			twice, err := grades.Reduce(opp(grades.AggregateMax), append(append([]grades.Change{}, head...), b2.next(reset), b2.next(reset), b2.next(reset)), false)
			require.NoError(t, err)

			assert.Empty(t, once.ValidPercentages)
			assert.Equal(t, once.ValidPercentages, twice.ValidPercentages)
			assert.Equal(t, once.State.State, twice.State.State)
			_, ok := twice.Percentage()
			assert.False(t, ok)
		})
	}
}

func TestReduce_DoOverLeavesStateUnset(t *testing.T) {
	b := newLog()
	changes := []grades.Change{
		b.graded(5, 10, ""),
		b.next(grades.StateDoOver),
	}
	res, err := grades.Reduce(opp(grades.AggregateMax), changes, false)
	require.NoError(t, err)
	assert.Equal(t, grades.ChangeState(""), res.State.State)
	assert.Equal(t, "-", res.Display())
	require.NotNil(t, res.LastGradedTime)

	// grading resumes after a do-over
	res, err = grades.Reduce(opp(grades.AggregateMax), append(changes, b.graded(7, 10, "")), false)
	require.NoError(t, err)
	assert.Equal(t, []float64{70}, res.ValidPercentages)
	assert.Equal(t, "70.0%", res.Display())
}

func TestReduce_Supersession(t *testing.T) {
	b := newLog()
	first := b.graded(40, 100, "A")
	second := b.graded(90, 100, "A")

	res, err := grades.Reduce(opp(grades.AggregateAverage), []grades.Change{first, second}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{90}, res.ValidPercentages)
	assert.True(t, res.IsSuperseded(first.ID))
	assert.False(t, res.IsSuperseded(second.ID))
	assert.Len(t, res.Superseded, 2)

	// without marking, the later grade still wins but nothing is flagged
	res, err = grades.Reduce(opp(grades.AggregateAverage), []grades.Change{first, second}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{90}, res.ValidPercentages)
	assert.False(t, res.IsSuperseded(first.ID))

	// inputs are left alone
	assert.Equal(t, 40.0, *first.Points)
}

func TestReduce_AttemptsAppendedAfterUngrouped(t *testing.T) {
	b := newLog()
	res, err := grades.Reduce(opp(grades.AggregateEarliest), []grades.Change{
		b.graded(2, 10, "A"),
		b.graded(5, 10, ""),
		b.graded(3, 10, "B"),
		b.graded(6, 10, ""),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 60, 20, 30}, res.ValidPercentages)
	assert.Equal(t, "50.0% (/4)", res.Display())
}

func TestReduce_DueDate(t *testing.T) {
	due := t0.Add(time.Hour)
	o := opp(grades.AggregateMax)
	o.DueTime = &due

	late := grades.Change{ID: "late", OpportunityID: "opp-1", State: grades.StateGraded, Points: pts(1), MaxPoints: 1, GradeTime: due.Add(time.Second)}
	_, err := grades.Reduce(o, []grades.Change{late}, false)
	require.ErrorIs(t, err, grades.ErrGradeAfterDueDate)

	var rerr *grades.ReduceError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 0, rerr.Index)
	assert.Equal(t, "late", rerr.ChangeID)

	early := late
	early.GradeTime = due.Add(-time.Second)
	res, err := grades.Reduce(o, []grades.Change{early}, false)
	require.NoError(t, err)
	assert.Equal(t, "100.0%", res.Display())
}

func TestReduce_ExtensionMovesDueDate(t *testing.T) {
	due := t0.Add(time.Hour)
	extended := t0.Add(3 * time.Hour)
	o := opp(grades.AggregateMax)
	o.DueTime = &due

	ext := grades.Change{ID: "ext", OpportunityID: "opp-1", State: grades.StateExtension, DueTime: &extended, GradeTime: t0.Add(time.Minute)}
	late := grades.Change{ID: "late", OpportunityID: "opp-1", State: grades.StateGraded, Points: pts(8), MaxPoints: 10, GradeTime: t0.Add(2 * time.Hour)}

	res, err := grades.Reduce(o, []grades.Change{ext, late}, false)
	require.NoError(t, err)
	require.NotNil(t, res.DueTime)
	assert.True(t, res.DueTime.Equal(extended))
	assert.Equal(t, "80.0%", res.Display())
	assert.Equal(t, due, *o.DueTime)
}

func TestReduce_UnavailableLockout(t *testing.T) {
	b := newLog()
	unavailable := b.next(grades.StateUnavailable)
	graded := b.graded(5, 10, "")

	res, err := grades.Reduce(opp(grades.AggregateMax), []grades.Change{unavailable}, false)
	require.NoError(t, err)
	_, ok := res.Percentage()
	assert.False(t, ok)
	assert.Equal(t, grades.StateUnavailable, res.State.State)
	assert.Equal(t, "-", res.Display())

	_, err = grades.Reduce(opp(grades.AggregateMax), []grades.Change{unavailable, graded}, false)
	require.ErrorIs(t, err, grades.ErrGradeRejected)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, "grade_rejected", grades.Kind(err))
}

func TestReduce_ExemptLockout(t *testing.T) {
	b := newLog()
	res, err := grades.Reduce(opp(grades.AggregateMax), []grades.Change{b.graded(5, 10, ""), b.next(grades.StateExempt)}, false)
	require.NoError(t, err)
	assert.Equal(t, "(exempt)", res.Display())

	_, err = grades.Reduce(opp(grades.AggregateMax), []grades.Change{b.next(grades.StateExempt), b.graded(1, 1, "")}, false)
	require.ErrorIs(t, err, grades.ErrGradeRejected)
	assert.Contains(t, err.Error(), "exempt")
}

func TestReduce_OutOfOrder(t *testing.T) {
	b := newLog()
	c1 := b.graded(1, 2, "")
	c2 := b.graded(2, 2, "")
	c2.GradeTime = c1.GradeTime

	_, err := grades.Reduce(opp(grades.AggregateMax), []grades.Change{c1, c2}, false)
	require.ErrorIs(t, err, grades.ErrOutOfOrderEvent)

	c2.GradeTime = c1.GradeTime.Add(-time.Second)
	_, err = grades.Reduce(opp(grades.AggregateMax), []grades.Change{c1, c2}, false)
	require.ErrorIs(t, err, grades.ErrOutOfOrderEvent)
}

func TestReduce_InvalidSequence(t *testing.T) {
	b := newLog()
	mine := b.graded(1, 2, "")
	other := b.graded(1, 2, "")
	other.OpportunityID = "opp-2"
	_, err := grades.Reduce(opp(grades.AggregateMax), []grades.Change{mine, other}, false)
	require.ErrorIs(t, err, grades.ErrInvalidSequence)
	assert.Equal(t, "invalid_sequence", grades.Kind(err))
}

func TestReduce_UnknownState(t *testing.T) {
	b := newLog()
	_, err := grades.Reduce(opp(grades.AggregateMax), []grades.Change{b.next("regraded")}, false)
	require.ErrorIs(t, err, grades.ErrUnknownState)
}

func TestReduce_InformationalChanges(t *testing.T) {
	b := newLog()
	changes := []grades.Change{
		b.next(grades.StateGradingStarted),
		b.next(grades.StateRetrieved),
		b.next(grades.StateReportSent),
	}
	res, err := grades.Reduce(opp(grades.AggregateMax), changes, false)
	require.NoError(t, err)
	assert.Equal(t, "-", res.Display())
	require.NotNil(t, res.LastReportTime)
	assert.True(t, res.LastReportTime.Equal(changes[2].GradeTime))
	assert.Nil(t, res.LastGradedTime)
	require.NotNil(t, res.Opportunity)
}

func TestReduce_MissingPointsExcluded(t *testing.T) {
	b := newLog()
	noPoints := b.next(grades.StateGraded)
	noPoints.MaxPoints = 10
	res, err := grades.Reduce(opp(grades.AggregateMin), []grades.Change{noPoints, b.graded(8, 10, "")}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{80}, res.ValidPercentages)
	assert.Equal(t, "80.0%", res.Display())
}

func TestReduce_Empty(t *testing.T) {
	res, err := grades.Reduce(opp(grades.AggregateMax), nil, true)
	require.NoError(t, err)
	assert.Nil(t, res.Opportunity)
	_, ok := res.Percentage()
	assert.False(t, ok)
	assert.Equal(t, "-", res.Display())
	assert.Empty(t, res.Superseded)
}
