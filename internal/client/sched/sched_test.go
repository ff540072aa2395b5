package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncer_BurstFiresOnce(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	require.True(t, d.Trigger())
	for i := 0; i < 5; i++ {
		require.False(t, d.Trigger())
	}

	require.Eventually(t, func() bool { return fires.Load() == 1 }, time.Second, 5*time.Millisecond)

	// No extra fire shows up later.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), fires.Load())
}

func TestDebouncer_NewCycleAfterFire(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	d.Trigger()
	require.Eventually(t, func() bool { return fires.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, d.Trigger())
	require.Eventually(t, func() bool { return fires.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { fires.Add(1) })

	d.Trigger()
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), fires.Load())
	require.False(t, d.Trigger())
}

func TestRunCron_RejectsInvalidExpression(t *testing.T) {
	err := RunCron(context.Background(), "not a cron", func() {})
	require.Error(t, err)
}

func TestRunCron_FiresEverySecond(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fires atomic.Int32
	// Seconds-precision expression: every second.
	require.NoError(t, RunCron(ctx, "* * * * * *", func() { fires.Add(1) }))

	require.Eventually(t, func() bool { return fires.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestRunCron_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var fires atomic.Int32
	require.NoError(t, RunCron(ctx, "* * * * * *", func() { fires.Add(1) }))
	cancel()

	time.Sleep(50 * time.Millisecond)
	before := fires.Load()
	time.Sleep(1500 * time.Millisecond)
	require.LessOrEqual(t, fires.Load(), before+1)
}
