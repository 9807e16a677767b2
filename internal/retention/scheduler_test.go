package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-relay-backend/config"
	"device-relay-backend/internal/store"
)

type fakeCleaner struct {
	calls  atomic.Int32
	result store.CleanupResult
	err    error
	at     time.Time
}

func (f *fakeCleaner) Cleanup(_ context.Context, now time.Time) (store.CleanupResult, error) {
	f.calls.Add(1)
	f.at = now
	return f.result, f.err
}

func TestJob_RunOnce(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &fakeCleaner{result: store.CleanupResult{SessionsExpired: 2, ActivitiesDeleted: 5}}
	job := NewJob(c, zerolog.Nop())
	job.now = func() time.Time { return fixed }

	res, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Total())
	assert.True(t, fixed.Equal(c.at))
}

func TestJob_RunOnceError(t *testing.T) {
	c := &fakeCleaner{err: errors.New("database is locked")}
	_, err := NewJob(c, zerolog.Nop()).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestNewScheduler(t *testing.T) {
	c := &fakeCleaner{}
	job := NewJob(c, zerolog.Nop())

	t.Run("disabled has no entries", func(t *testing.T) {
		s, err := NewScheduler(config.RetentionConfig{Enabled: false, Schedule: "@every 1h"}, job, zerolog.Nop())
		require.NoError(t, err)
		assert.Empty(t, s.cron.Entries())
		s.Start()
		s.Stop()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		_, err := NewScheduler(config.RetentionConfig{Enabled: true, Schedule: "every now and then"}, job, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("seconds schedule runs the job", func(t *testing.T) {
		s, err := NewScheduler(config.RetentionConfig{Enabled: true, Schedule: "* * * * * *"}, job, zerolog.Nop())
		require.NoError(t, err)
		s.Start()
		defer s.Stop()

		assert.False(t, s.NextRun().IsZero())
		assert.Eventually(t, func() bool { return c.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	})
}
