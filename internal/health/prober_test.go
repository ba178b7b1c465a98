package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticTargets(addrs ...string) func() []string {
	return func() []string { return addrs }
}

// TestNewProber verifies defaults are applied
func TestNewProber(t *testing.T) {
	p := NewProber(staticTargets(), 5*time.Second, 0, zerolog.Nop())

	assert.Equal(t, 5*time.Second, p.interval)
	assert.Equal(t, time.Second, p.timeout)
	assert.Equal(t, time.Second, p.httpClient.Timeout)
	assert.NotNil(t, p.checkFunc)
	assert.Empty(t, p.Snapshot())
}

// TestProbeClassification runs the real HTTP check against fake backends
func TestProbeClassification(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	created := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer created.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	addrs := []string{ok.URL, failing.URL, created.URL, slow.URL, closedURL, ok.URL + "/"}
	p := NewProber(staticTargets(addrs...), time.Second, 100*time.Millisecond, zerolog.Nop())

	round := p.Probe(context.Background(), addrs)

	assert.Equal(t, []string{ok.URL, ok.URL + "/"}, round.Healthy)
	assert.Equal(t, []string{failing.URL, created.URL, slow.URL, closedURL}, round.Unhealthy)
	assert.Len(t, round.Errors, 4)
	assert.True(t, round.IsHealthy(ok.URL))
	assert.False(t, round.IsHealthy(failing.URL))
}

// TestProbeAcceptsHostPort verifies scheme-less addresses are probed over http
func TestProbeAcceptsHostPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hostPort := srv.Listener.Addr().String()
	p := NewProber(staticTargets(hostPort), time.Second, time.Second, zerolog.Nop())

	round := p.Probe(context.Background(), []string{hostPort})
	assert.Equal(t, []string{hostPort}, round.Healthy)
}

// TestRefreshRecordsHistory verifies rounds update per-address history and the sink
func TestRefreshRecordsHistory(t *testing.T) {
	var down atomic.Bool
	p := NewProber(staticTargets("a", "b"), time.Second, time.Second, zerolog.Nop())
	p.SetCheckFunction(func(_ context.Context, addr string) error {
		if addr == "b" && down.Load() {
			return fmt.Errorf("node is down")
		}
		return nil
	})

	var rounds []Round
	p.SetOnRound(func(r Round) { rounds = append(rounds, r) })

	p.Refresh(context.Background())
	snap := p.Snapshot()
	assert.Equal(t, StatusHealthy, snap["a"].Status)
	assert.Equal(t, StatusHealthy, snap["b"].Status)

	down.Store(true)
	p.Refresh(context.Background())
	p.Refresh(context.Background())

	snap = p.Snapshot()
	assert.Equal(t, StatusUnhealthy, snap["b"].Status)
	assert.Equal(t, 2, snap["b"].ConsecutiveFails)
	assert.Equal(t, "node is down", snap["b"].LastError)
	assert.Equal(t, StatusHealthy, snap["a"].Status)

	require.Len(t, rounds, 3)
	assert.Equal(t, []string{"a"}, rounds[2].Healthy)
	assert.Equal(t, []string{"b"}, rounds[2].Unhealthy)

	down.Store(false)
	p.Refresh(context.Background())
	snap = p.Snapshot()
	assert.Equal(t, StatusHealthy, snap["b"].Status)
	assert.Equal(t, 0, snap["b"].ConsecutiveFails)
	assert.Empty(t, snap["b"].LastError)
}

// TestRefreshDropsRemovedTargets verifies history follows the target list
func TestRefreshDropsRemovedTargets(t *testing.T) {
	var mu sync.Mutex
	targets := []string{"a", "b"}
	p := NewProber(func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), targets...)
	}, time.Second, time.Second, zerolog.Nop())
	p.SetCheckFunction(func(context.Context, string) error { return nil })

	p.Refresh(context.Background())
	assert.Len(t, p.Snapshot(), 2)

	mu.Lock()
	targets = []string{"a"}
	mu.Unlock()

	p.Refresh(context.Background())
	snap := p.Snapshot()
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "a")
}

// TestRunProbesPeriodically verifies the loop probes immediately and on each tick
func TestRunProbesPeriodically(t *testing.T) {
	var calls atomic.Int64
	p := NewProber(staticTargets("a", "b"), 50*time.Millisecond, time.Second, zerolog.Nop())
	p.SetCheckFunction(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(180 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop after cancellation")
	}

	// initial round plus at least two ticks, two targets each
	assert.GreaterOrEqual(t, calls.Load(), int64(6))
}

// TestRunDisabledWithoutInterval verifies a zero interval returns immediately
func TestRunDisabledWithoutInterval(t *testing.T) {
	p := NewProber(staticTargets("a"), 0, time.Second, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when interval is zero")
	}
}

// TestProbeRespectsTimeout verifies a hung check is cut off by the probe timeout
func TestProbeRespectsTimeout(t *testing.T) {
	p := NewProber(staticTargets("hung"), time.Second, 50*time.Millisecond, zerolog.Nop())
	p.SetCheckFunction(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	round := p.Probe(context.Background(), []string{"hung"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"hung"}, round.Unhealthy)
	assert.ErrorIs(t, round.Errors["hung"], context.DeadlineExceeded)
}
