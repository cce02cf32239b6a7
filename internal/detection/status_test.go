package detection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusCategoryDetected, true},
		{StatusPending, StatusIdentified, false},
		{StatusCategoryDetected, StatusIdentified, true},
		{StatusCategoryDetected, StatusVerified, false},
		{StatusIdentified, StatusVerified, true},
		{StatusIdentified, StatusCompleted, true},
		{StatusVerified, StatusCompleted, true},
		{StatusVerified, StatusIdentified, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestFailedReachableFromEveryNonTerminalState(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCategoryDetected, StatusIdentified, StatusVerified} {
		assert.True(t, CanTransition(s, StatusFailed), "expected %s -> failed", s)
	}
}

func TestCheckTransition_WrapsSentinel(t *testing.T) {
	err := CheckTransition(StatusCompleted, StatusVerified)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "completed -> verified")

	assert.NoError(t, CheckTransition(StatusPending, StatusCategoryDetected))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("identified")
	assert.NoError(t, err)
	assert.Equal(t, StatusIdentified, s)

	_, err = ParseStatus("half-done")
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("fashion")
	assert.True(t, ok)
	assert.Equal(t, CategoryFashion, c)

	_, ok = ParseCategory("furniture")
	assert.False(t, ok)
}

func TestOutcomeResolved(t *testing.T) {
	assert.False(t, OutcomePending.Resolved())
	assert.False(t, Outcome("").Resolved())
	assert.True(t, OutcomeSucceeded.Resolved())
	assert.True(t, OutcomeFailed.Resolved())
}

func TestReached(t *testing.T) {
	assert.True(t, StatusIdentified.Reached(StatusCategoryDetected))
	assert.True(t, StatusIdentified.Reached(StatusIdentified))
	assert.True(t, StatusCompleted.Reached(StatusIdentified))
	assert.False(t, StatusCategoryDetected.Reached(StatusIdentified))
	assert.False(t, StatusPending.Reached(StatusCategoryDetected))
	assert.False(t, StatusFailed.Reached(StatusPending))
	assert.False(t, StatusCompleted.Reached(StatusFailed))
}
