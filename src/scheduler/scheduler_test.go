package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = l.TryLock(ctx, "recompute", time.Minute)
	assert.True(t, ok, "locks are per name")

	release()
	release()
	_, ok, _ = l.TryLock(ctx, "sweep", time.Minute)
	assert.True(t, ok)
}

func TestIntervalSchedule_Next(t *testing.T) {
	s := &IntervalSchedule{InitialDelay: time.Second, Interval: time.Minute}
	start := time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)

	first := s.Next(start)
	assert.Equal(t, start.Add(time.Second), first)
	assert.Equal(t, first.Add(time.Minute), s.Next(first))
}

func TestScheduler_AddTask(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.AddTask(&Task{Name: "sweep", Interval: time.Minute, Run: noop}))
	require.NoError(t, s.AddTask(&Task{Name: "digest", Spec: "0 8 * * MON", Run: noop}))

	assert.Error(t, s.AddTask(&Task{Name: "bad", Spec: "every monday", Run: noop}))
	assert.Error(t, s.AddTask(&Task{Name: "unscheduled", Run: noop}))

	err := s.AddTask(&Task{Name: "sweep", Interval: time.Minute, Run: noop})
	assert.ErrorIs(t, err, ErrTaskAdded)
}

func TestScheduler_ExclusiveSharesTaskLock(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	s := New(locker)

	var scheduled atomic.Int32
	require.NoError(t, s.AddTask(&Task{
		Name:     "sweep",
		Interval: time.Hour,
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			scheduled.Add(1)
			return nil
		},
	}))

	var manual atomic.Int32
	manualRun := func(ctx context.Context) error {
		manual.Add(1)
		deadline, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second, "task timeout bounds manual runs")
		return nil
	}

	ran, err := s.Exclusive(ctx, "sweep", manualRun)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), manual.Load())

	// a run in flight on another replica holds the lock
	release, ok, _ := locker.TryLock(ctx, "sweep", time.Minute)
	require.True(t, ok)
	ran, err = s.Exclusive(ctx, "sweep", manualRun)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(1), manual.Load())

	// other jobs are unaffected
	ran, err = s.Exclusive(ctx, "recompute", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	release()
	assert.Equal(t, int32(0), scheduled.Load())
}

func TestScheduler_ExclusiveBlocksScheduledRun(t *testing.T) {
	s := New(nil)
	fired := make(chan struct{}, 1)
	require.NoError(t, s.AddTask(&Task{
		Name:         "tick",
		InitialDelay: 50 * time.Millisecond,
		Interval:     time.Hour,
		Run: func(ctx context.Context) error {
			fired <- struct{}{}
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	ran, err := s.Exclusive(context.Background(), "tick", func(ctx context.Context) error {
		// hold the lock past the scheduled activation
		time.Sleep(300 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	select {
	case <-fired:
		t.Fatal("scheduled run overlapped a manual run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_ExclusiveReturnsRunError(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")

	ran, err := s.Exclusive(context.Background(), "reap", func(ctx context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	// the lock is released after a failed run
	ran, _ = s.Exclusive(context.Background(), "reap", func(ctx context.Context) error { return nil })
	assert.True(t, ran)
}

func TestScheduler_FiresIntervalTasks(t *testing.T) {
	s := New(nil)
	fired := make(chan struct{}, 1)
	require.NoError(t, s.AddTask(&Task{
		Name:         "tick",
		InitialDelay: 10 * time.Millisecond,
		Interval:     time.Hour,
		Run: func(ctx context.Context) error {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("interval task never fired")
	}
}
