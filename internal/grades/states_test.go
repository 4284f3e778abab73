package grades_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grades/internal/grades"
)

func TestParseAggregationStrategy(t *testing.T) {
	for in, want := range map[string]grades.AggregationStrategy{
		"max":          grades.AggregateMax,
		"max_grade":    grades.AggregateMax,
		"average":      grades.AggregateAverage,
		"avg_grade":    grades.AggregateAverage,
		" MIN ":        grades.AggregateMin,
		"use_earliest": grades.AggregateEarliest,
		"latest":       grades.AggregateLatest,
	} {
		got, err := grades.ParseAggregationStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := grades.ParseAggregationStrategy("median")
	require.ErrorIs(t, err, grades.ErrUnknownStrategy)
	assert.Equal(t, `invalid aggregation strategy "median" (one of max_grade, avg_grade, min_grade, use_earliest, use_latest)`, err.Error())
}

func TestParseChangeState(t *testing.T) {
	for _, s := range grades.ChangeStates {
		got, err := grades.ParseChangeState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.NotEmpty(t, s.Label())
	}
	_, err := grades.ParseChangeState("regraded")
	require.ErrorIs(t, err, grades.ErrUnknownState)
	assert.Equal(t, "unknown_state", grades.Kind(err))
	var ve *grades.ValueError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Allowed, len(grades.ChangeStates))
	assert.Contains(t, err.Error(), "grading_started, graded, retrieved")
}
