package tasks

import (
	"context"
	"io/ioutil"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/services/logger"
)

func newRunner(t *testing.T, opts ...func(*core.TasksConfig)) *Runner {
	conf := core.NewTestConfig()
	for _, opt := range opts {
		opt(&conf.Tasks)
	}
	r := NewRunner(newLogger(), conf)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func wait(t *testing.T, r *Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRunner_retries(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		wantAttempts int32
	}{
		{name: "success", failures: 0, wantAttempts: 1},
		{name: "succeeds on retry", failures: 2, wantAttempts: 3},
		{name: "gives up", failures: 10, wantAttempts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t)
			var attempts int32
			ok := r.Enqueue(tt.name, func(ctx context.Context) error {
				if atomic.AddInt32(&attempts, 1) <= tt.failures {
					return errors.New("try again")
				}
				return nil
			})
			require.True(t, ok)
			wait(t, r)
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestRunner_panicIsAFailure(t *testing.T) {
	r := newRunner(t)
	var attempts int32
	r.Enqueue("panics", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		panic("boom")
	})
	wait(t, r)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRunner_attemptTimeout(t *testing.T) {
	r := newRunner(t, func(c *core.TasksConfig) {
		c.MaxAttempts = 1
		c.Timeout = 10 * time.Millisecond
	})
	var gotErr atomic.Value
	r.Enqueue("slow", func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	})
	wait(t, r)
	assert.Equal(t, context.DeadlineExceeded, gotErr.Load())
}

func TestRunner_Enqueue_neverBlocks(t *testing.T) {
	r := newRunner(t, func(c *core.TasksConfig) {
		c.Workers = 1
		c.QueueSize = 1
	})
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, r.Enqueue("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, r.Enqueue("queued", func(ctx context.Context) error { return nil }))
	assert.False(t, r.Enqueue("dropped", func(ctx context.Context) error { return nil }))

	close(release)
	wait(t, r)
}

func TestRunner_Shutdown(t *testing.T) {
	r := newRunner(t)
	var ran int32
	for i := 0; i < 5; i++ {
		r.Enqueue("task", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	assert.False(t, r.Enqueue("late", func(ctx context.Context) error { return nil }))
}

func newLogger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), core.NewTestConfig())
}
