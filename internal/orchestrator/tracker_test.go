package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
)

func TestNewTrackerValidation(t *testing.T) {
	_, err := NewTracker(-1)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	tracker, err := NewTracker(0)
	require.NoError(t, err)
	summary := tracker.Summary()
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.Succeeded+summary.Failed)
}

func TestTrackerCountsAndWarningOrder(t *testing.T) {
	tracker, err := NewTracker(5)
	require.NoError(t, err)

	tracker.RecordSuccess()
	tracker.RecordFailure("mirror group/app: connection refused")
	tracker.RecordSuccess()
	tracker.RecordFailure("mirror group/lib: 503 service unavailable")
	tracker.RecordSuccess()

	summary := tracker.Summary()
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, summary.Total, summary.Succeeded+summary.Failed)
	require.Len(t, summary.Warnings, 2)
	assert.Contains(t, summary.Warnings[0], "group/app")
	assert.Contains(t, summary.Warnings[1], "group/lib")
}

func TestTrackerNeverExceedsTotal(t *testing.T) {
	tracker, err := NewTracker(2)
	require.NoError(t, err)

	tracker.RecordSuccess()
	tracker.RecordSuccess()
	tracker.RecordSuccess()
	tracker.RecordFailure("late failure")

	summary := tracker.Summary()
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Warnings)
}

func TestTrackerSanitizesWarnings(t *testing.T) {
	tracker, err := NewTracker(2)
	require.NoError(t, err)

	tracker.RecordFailure("path\x1b[31mwith\ncontrol\tchars")
	tracker.RecordFailure(strings.Repeat("x", 2*maxWarningLength))

	summary := tracker.Summary()
	require.Len(t, summary.Warnings, 2)
	assert.Equal(t, "path [31mwith control chars", summary.Warnings[0])
	assert.Len(t, summary.Warnings[1], maxWarningLength)
}

func TestTrackerSummaryIsRepeatable(t *testing.T) {
	tracker, err := NewTracker(3)
	require.NoError(t, err)

	tracker.RecordSuccess()
	tracker.RecordFailure("bad")

	first := tracker.Summary()
	second := tracker.Summary()
	assert.Equal(t, first.Succeeded, second.Succeeded)
	assert.Equal(t, first.Failed, second.Failed)
	assert.Equal(t, first.Warnings, second.Warnings)

	// Mutating the returned slice must not leak back into the ledger.
	first.Warnings[0] = "tampered"
	assert.Equal(t, "bad", tracker.Summary().Warnings[0])
}
