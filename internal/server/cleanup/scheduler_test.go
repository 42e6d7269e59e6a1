package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeCleaner records the mock time of every pass and fails the passes
// whose index is listed in fail.
type fakeCleaner struct {
	clock *clock.Mock
	fail  map[int]bool

	mu    sync.Mutex
	calls []time.Time
}

func (f *fakeCleaner) Cleanup(context.Context) (services.CleanupReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, f.clock.Now())
	if f.fail[i] {
		return services.CleanupReport{}, errors.New("db down")
	}
	return services.CleanupReport{Swept: 1}, nil
}

func (f *fakeCleaner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCleaner) at(i int) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func start(t *testing.T, c *fakeCleaner, clk *clock.Mock) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(c, 24*time.Hour, 30*time.Minute, clk, logging.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return cancel, done
}

// advanceUntil moves the mock clock forward in steps until c has seen n passes.
func advanceUntil(t *testing.T, c *fakeCleaner, clk *clock.Mock, n int, step time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		if c.count() >= n {
			return true
		}
		clk.Add(step)
		return c.count() >= n
	}, 10*time.Second, time.Millisecond)
}

func TestScheduler_RunsImmediatelyThenDaily(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(base)
	c := &fakeCleaner{clock: clk}
	cancel, done := start(t, c, clk)
	defer func() { cancel(); <-done }()

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, base, c.at(0))

	advanceUntil(t, c, clk, 2, 10*time.Minute)
	gap := c.at(1).Sub(c.at(0))
	assert.GreaterOrEqual(t, gap, 24*time.Hour)
	assert.Less(t, gap, 24*time.Hour+30*time.Minute)
}

func TestScheduler_RetriesSoonerAfterFailure(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(base)
	c := &fakeCleaner{clock: clk, fail: map[int]bool{0: true}}
	cancel, done := start(t, c, clk)
	defer func() { cancel(); <-done }()

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)

	advanceUntil(t, c, clk, 2, time.Minute)
	gap := c.at(1).Sub(c.at(0))
	assert.GreaterOrEqual(t, gap, 30*time.Minute)
	assert.Less(t, gap, time.Hour)

	// back on the daily cadence once a pass succeeds
	advanceUntil(t, c, clk, 3, 10*time.Minute)
	assert.GreaterOrEqual(t, c.at(2).Sub(c.at(1)), 24*time.Hour)
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(base)
	c := &fakeCleaner{clock: clk, fail: map[int]bool{0: true, 1: true}}
	cancel, done := start(t, c, clk)

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Equal(t, 1, c.count())
}
