package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
)

func TestManual_Subscribe(t *testing.T) {
	m := NewManual(false)
	ch := m.Subscribe()

	m.SetOnline(false)
	select {
	case <-ch:
		t.Fatal("unchanged state must not notify")
	default:
	}

	m.SetOnline(true)
	assert.True(t, m.Online())
	assert.True(t, <-ch)

	// A slow reader only sees the latest state.
	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(false)
	assert.False(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra event %v", v)
	default:
	}

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open, "Unsubscribe closes the channel")
	m.Unsubscribe(ch)
	m.SetOnline(true)
}

func TestProber_Probe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, time.Second, time.Second, nil, logging.Nop())
	assert.False(t, p.Online(), "starts offline")

	ch := p.Subscribe()
	assert.True(t, p.Probe(context.Background()))
	assert.True(t, <-ch)

	healthy.Store(false)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, <-ch)
}

func TestProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(url, time.Second, 200*time.Millisecond, nil, logging.Nop())
	assert.False(t, p.Probe(context.Background()))
}

func TestProber_Run(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	p := NewProber(srv.URL, 15*time.Second, time.Second, clock, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.True(t, p.Online())
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
