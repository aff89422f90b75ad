package crawler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobApplyLifecycle(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := Job{ID: "j1", Status: JobStatusPending}

	running, err := job.Apply(StatusUpdate(JobStatusRunning), t0)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)
	assert.Equal(t, t0, *running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	progressed, err := running.Apply(Progress(10, 8), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 10, progressed.ProductsProcessed)
	assert.Equal(t, 8, progressed.ProductsUpdated)

	_, err = progressed.Apply(Progress(9, 8), t0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = progressed.Apply(StatusUpdate(JobStatusPending), t0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	msg := "boom"
	failed, err := progressed.Apply(JobUpdate{Status: ptr(JobStatusFailed), ErrorMessage: &msg}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "boom", failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)
	assert.Equal(t, t0, *failed.StartedAt)

	_, err = failed.Apply(StatusUpdate(JobStatusRunning), t0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = failed.Apply(Progress(11, 8), t0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobApplyUnknownStatus(t *testing.T) {
	t.Parallel()

	_, err := Job{Status: JobStatusRunning}.Apply(StatusUpdate("paused"), time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNeedsSnapshot(t *testing.T) {
	t.Parallel()

	price := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	assert.True(t, NeedsSnapshot(nil, Product{Price: price("1.00")}))
	assert.False(t, NeedsSnapshot(nil, Product{}))
	assert.True(t, NeedsSnapshot(&Product{}, Product{Price: price("1")}))
	assert.False(t, NeedsSnapshot(&Product{Price: price("1.0")}, Product{Price: price("1.00")}))
	assert.True(t, NeedsSnapshot(&Product{Price: price("1.00")}, Product{Price: price("1.01")}))
	assert.False(t, NeedsSnapshot(&Product{Price: price("1.00")}, Product{}))
}

func ptr[T any](v T) *T { return &v }
