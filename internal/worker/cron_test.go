package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/notifier/pkg/logger"
)

func newTestCron() *Cron {
	return NewCron(logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard}))
}

func TestCron_AddValidation(t *testing.T) {
	c := newTestCron()
	run := func(ctx context.Context) error { return nil }

	assert.Error(t, c.Add(Job{Name: "", Interval: time.Second, Run: run}))
	assert.Error(t, c.Add(Job{Name: "sweep", Interval: 0, Run: run}))
	assert.Error(t, c.Add(Job{Name: "sweep", Interval: time.Second, Run: nil}))

	require.NoError(t, c.Add(Job{Name: "sweep", Interval: time.Second, Run: run}))
	assert.Error(t, c.Add(Job{Name: "sweep", Interval: time.Minute, Run: run}), "duplicate name")

	assert.Equal(t, []string{"sweep"}, c.Jobs())
}

func TestCron_RunJob(t *testing.T) {
	c := newTestCron()

	ran := 0
	require.NoError(t, c.Add(Job{Name: "digest", Interval: time.Hour, Run: func(ctx context.Context) error {
		ran++
		return nil
	}}))
	boom := errors.New("boom")
	require.NoError(t, c.Add(Job{Name: "cleanup", Interval: time.Hour, Run: func(ctx context.Context) error {
		return boom
	}}))

	require.NoError(t, c.RunJob(context.Background(), "digest"))
	assert.Equal(t, 1, ran)

	assert.ErrorIs(t, c.RunJob(context.Background(), "cleanup"), boom)
	assert.Error(t, c.RunJob(context.Background(), "no-such-job"))
}

func TestCron_StartStopsOnCancel(t *testing.T) {
	c := newTestCron()

	fired := make(chan struct{}, 16)
	require.NoError(t, c.Add(Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
