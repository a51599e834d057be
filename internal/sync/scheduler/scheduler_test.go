package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/network"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeDrainer struct {
	mu    sync.Mutex
	calls int
	err   error
	ch    chan struct{}
	busy  atomic.Bool
}

func newFakeDrainer() *fakeDrainer {
	return &fakeDrainer{ch: make(chan struct{}, 16)}
}

func (d *fakeDrainer) Drain(context.Context) (queue.DrainResult, error) {
	d.mu.Lock()
	d.calls++
	err := d.err
	d.mu.Unlock()
	d.ch <- struct{}{}
	return queue.DrainResult{Synced: 1}, err
}

func (d *fakeDrainer) Draining() bool { return d.busy.Load() }

func (d *fakeDrainer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDrainer) waitDrain(t *testing.T) {
	t.Helper()
	select {
	case <-d.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain")
	}
}

func (d *fakeDrainer) assertNoDrain(t *testing.T) {
	t.Helper()
	select {
	case <-d.ch:
		t.Fatal("unexpected drain")
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	s       *Scheduler
	drainer *fakeDrainer
	net     *network.Manual
	clock   *clockwork.FakeClock
	ctx     context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		drainer: newFakeDrainer(),
		net:     network.NewManual(true),
		clock:   clockwork.NewFakeClock(),
	}
	h.s = New(h.drainer, h.net, h.clock, logging.Nop(), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	h.ctx = ctx

	h.s.Start(ctx)
	t.Cleanup(h.s.Stop)

	// The interval ticker is the first waiter on the clock.
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	return h
}

// awaitDrains waits until the scheduler has recorded n drains.
func (h *harness) awaitDrains(t *testing.T, n int) Status {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.s.Status().Drains == n
	}, 2*time.Second, 5*time.Millisecond)
	return h.s.Status()
}

// =====================================================
// Tests
// =====================================================

func TestNew_Defaults(t *testing.T) {
	s := New(newFakeDrainer(), nil, nil, nil, Config{})
	assert.Equal(t, 30*time.Second, s.interval)
	assert.Equal(t, 500*time.Millisecond, s.debounce)
	assert.True(t, s.Status().Online)
	assert.False(t, s.Status().Running)
}

// TestNotify_Debounces verifies a burst of enqueues produces one drain.
func TestNotify_Debounces(t *testing.T) {
	h := newHarness(t)

	h.s.Notify()
	h.s.Notify()
	h.s.Notify()

	// Ticker plus debounce timer.
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 2))
	h.clock.Advance(499 * time.Millisecond)
	h.drainer.assertNoDrain(t)

	h.clock.Advance(time.Millisecond)
	h.drainer.waitDrain(t)
	h.drainer.assertNoDrain(t)
	assert.Equal(t, 1, h.drainer.count())

	st := h.awaitDrains(t, 1)
	assert.Equal(t, TriggerEnqueue, st.LastTrigger)
	assert.Equal(t, 1, st.LastResult.Synced)
	require.NotNil(t, st.LastDrainAt)
}

func TestInterval_DrainsWhileOnline(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(30 * time.Second)
	h.drainer.waitDrain(t)
	assert.Equal(t, TriggerInterval, h.awaitDrains(t, 1).LastTrigger)
}

func TestInterval_SkipsWhileOffline(t *testing.T) {
	h := newHarness(t)
	h.net.SetOnline(false)

	h.clock.Advance(30 * time.Second)
	h.drainer.assertNoDrain(t)
	assert.Equal(t, 0, h.drainer.count())
}

func TestInterval_SkipsWhileDraining(t *testing.T) {
	h := newHarness(t)
	h.drainer.busy.Store(true)

	h.clock.Advance(30 * time.Second)
	h.drainer.assertNoDrain(t)
}

// TestNetworkRegain_Drains verifies reconnecting starts a drain at once.
func TestNetworkRegain_Drains(t *testing.T) {
	h := newHarness(t)

	h.net.SetOnline(false)
	h.drainer.assertNoDrain(t)

	h.net.SetOnline(true)
	h.drainer.waitDrain(t)
	assert.Equal(t, TriggerNetwork, h.awaitDrains(t, 1).LastTrigger)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)

	h.s.Pause()
	assert.True(t, h.s.Status().Paused)
	h.s.TriggerNow()
	h.drainer.assertNoDrain(t)

	h.s.Resume()
	h.drainer.waitDrain(t)
	st := h.awaitDrains(t, 1)
	assert.False(t, st.Paused)
	assert.Equal(t, TriggerManual, st.LastTrigger)
}

// TestDrainError_Recorded verifies skipped drains surface in Status.
func TestDrainError_Recorded(t *testing.T) {
	h := newHarness(t)
	h.drainer.mu.Lock()
	h.drainer.err = queue.ErrAlreadyDraining
	h.drainer.mu.Unlock()

	h.s.TriggerNow()
	h.drainer.waitDrain(t)

	assert.Eventually(t, func() bool {
		return h.s.Status().LastError != ""
	}, time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	assert.Eventually(t, func() bool { return h.s.Status().Running }, time.Second, 10*time.Millisecond)

	h.s.Stop()
	assert.False(t, h.s.Status().Running)

	// Stop without a running scheduler is a no-op.
	h.s.Stop()
}
