package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time            { return c.t }
func (c *fakeClock) Advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(clock.Now), clock
}

func TestCheck_CountsDownThenBlocks(t *testing.T) {
	l, _ := newTestLimiter()

	for want := MaxAttempts - 1; want >= 0; want-- {
		res := l.Check("a@example.com")
		require.False(t, res.Blocked)
		require.Equal(t, want, res.RemainingAttempts)
	}

	res := l.Check("a@example.com")
	require.True(t, res.Blocked)
	require.Equal(t, BlockDuration, res.RetryIn)
}

func TestCheck_BlockedReportsRemainingCooldown(t *testing.T) {
	l, clock := newTestLimiter()
	for i := 0; i <= MaxAttempts; i++ {
		l.Check("a@example.com")
	}

	clock.Advance(5 * time.Minute)
	res := l.Check("a@example.com")
	require.True(t, res.Blocked)
	require.Equal(t, 10*time.Minute, res.RetryIn)
}

func TestCheck_FreshAfterBlockCooldown(t *testing.T) {
	l, clock := newTestLimiter()
	for i := 0; i <= MaxAttempts; i++ {
		l.Check("a@example.com")
	}

	clock.Advance(BlockDuration)
	res := l.Check("a@example.com")
	require.False(t, res.Blocked)
	require.Equal(t, MaxAttempts-1, res.RemainingAttempts)
}

func TestCheck_WindowRollsWithoutBlocking(t *testing.T) {
	l, clock := newTestLimiter()

	l.Check("a@example.com")
	l.Check("a@example.com")

	clock.Advance(Window)
	res := l.Check("a@example.com")
	require.False(t, res.Blocked)
	require.Equal(t, MaxAttempts-1, res.RemainingAttempts)
	require.Equal(t, Window, res.RetryIn)
}

func TestCheck_WindowTimeLeftShrinks(t *testing.T) {
	l, clock := newTestLimiter()

	l.Check("a@example.com")
	clock.Advance(2 * time.Minute)
	res := l.Check("a@example.com")
	require.False(t, res.Blocked)
	require.Equal(t, 3*time.Minute, res.RetryIn)
}

func TestReset_TreatsIdentifierAsFresh(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 3; i++ {
		l.Check("a@example.com")
	}

	l.Reset("a@example.com")
	res := l.Check("a@example.com")
	require.False(t, res.Blocked)
	require.Equal(t, MaxAttempts-1, res.RemainingAttempts)
}

func TestCheck_IdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i <= MaxAttempts; i++ {
		l.Check(LoginKey("a@example.com"))
	}

	require.True(t, l.Check(LoginKey("a@example.com")).Blocked)
	require.False(t, l.Check(ResetKey("a@example.com")).Blocked)
	require.False(t, l.Check(LoginKey("b@example.com")).Blocked)
}
