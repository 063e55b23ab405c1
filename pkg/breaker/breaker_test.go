package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T, threshold int, resetTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	t.Helper()
	cb, err := New("test-service", threshold, resetTimeout, logging.NewTestLogger())
	require.NoError(t, err)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return current }
	return cb, &current
}

func TestNewRejectsNonPositiveThreshold(t *testing.T) {
	logger := logging.NewTestLogger()
	_, err := New("bad", 0, time.Minute, logger)
	require.Error(t, err)
	_, err = New("bad", -3, time.Minute, logger)
	require.Error(t, err)
}

func TestOpensAfterExactlyThresholdFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	fail := func() error { return errBoom }

	for i := 0; i < 2; i++ {
		err := cb.Execute(ctx, fail, nil)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, cb.State(), "must not open after %d failures", i+1)
	}

	err := cb.Execute(ctx, fail, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureStreakWhileClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.NoError(t, cb.Execute(ctx, func() error { return nil }, nil))

	// Two more failures must not open the circuit; the streak restarted.
	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpenCircuitRejectsWithoutInvokingOperation(t *testing.T) {
	cb, _ := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	}, nil)

	require.Error(t, err)
	assert.False(t, invoked)

	var unavailable *ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "test-service", unavailable.Service)
	assert.Equal(t, int64(1), cb.Metrics().TotalRejections)
}

func TestHalfOpenTrialCallClosesOnSuccess(t *testing.T) {
	cb, current := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.Equal(t, StateOpen, cb.State())

	*current = current.Add(59 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	*current = current.Add(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Metrics().FailureStreak)
}

func TestHalfOpenTrialCallReopensOnFailure(t *testing.T) {
	cb, current := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	}
	require.Equal(t, StateOpen, cb.State())

	*current = current.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, cb.State())

	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	assert.Equal(t, StateOpen, cb.State())
}

func TestFallbackReceivesOriginalError(t *testing.T) {
	cb, _ := newTestBreaker(t, 5, time.Minute)
	ctx := context.Background()

	var seen error
	err := cb.Execute(ctx, func() error { return errBoom }, func(ctx context.Context, cause error) error {
		seen = cause
		return nil
	})

	require.NoError(t, err, "handled fallback absorbs the failure")
	assert.ErrorIs(t, seen, errBoom)
}

func TestFallbackErrorSupersedesOriginal(t *testing.T) {
	cb, _ := newTestBreaker(t, 5, time.Minute)
	ctx := context.Background()
	errFallback := errors.New("fallback exploded")

	err := cb.Execute(ctx, func() error { return errBoom }, func(ctx context.Context, cause error) error {
		return errFallback
	})

	require.ErrorIs(t, err, errFallback)
	assert.NotErrorIs(t, err, errBoom)
}

func TestManualResetForcesClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, 1, time.Hour)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	m := cb.Metrics()
	assert.Equal(t, 0, m.FailureStreak)
	assert.Nil(t, m.SecondsSinceLastFailure)
	// Cumulative counters survive a reset.
	assert.Equal(t, int64(1), m.TotalFailures)
}

func TestMetricsSnapshot(t *testing.T) {
	cb, current := newTestBreaker(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, func() error { return nil }, nil))
	require.Error(t, cb.Execute(ctx, func() error { return errBoom }, nil))
	*current = current.Add(10 * time.Second)

	m := cb.Metrics()
	assert.Equal(t, "test-service", m.ServiceName)
	assert.Equal(t, "closed", m.State)
	assert.Equal(t, int64(1), m.TotalSuccesses)
	assert.Equal(t, int64(1), m.TotalFailures)
	assert.Equal(t, 1, m.FailureStreak)
	require.NotNil(t, m.SecondsSinceLastFailure)
	assert.InDelta(t, 10.0, *m.SecondsSinceLastFailure, 0.001)

	// Snapshot has no side effects.
	assert.Equal(t, m, cb.Metrics())
}

func TestDoReturnsValueAndFallbackValue(t *testing.T) {
	cb, _ := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	got, err := Do(ctx, cb, func() (string, error) { return "primary", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", got)

	got, err = Do(ctx, cb, func() (string, error) { return "", errBoom },
		func(ctx context.Context, cause error) (string, error) { return "degraded", nil })
	require.NoError(t, err)
	assert.Equal(t, "degraded", got)
}
