package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// Probe classifications reported in TargetHealth.Status
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// TargetHealth tracks probe history for a single address.
// Thread-safe: Protected by Prober's mutex when accessed.
type TargetHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last probe
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful probe
	Addr             string    `json:"addr"`
	Status           string    `json:"status"` // "healthy", "unhealthy", "unknown"
	LastError        string    `json:"last_error,omitempty"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// Round is the outcome of probing every target once
type Round struct {
	Started   time.Time
	Errors    map[string]error // failed addresses and why
	Healthy   []string         // in target order
	Unhealthy []string         // in target order
}

// IsHealthy reports whether addr passed its probe in this round
func (r Round) IsHealthy(addr string) bool {
	return slices.Contains(r.Healthy, addr)
}

// Prober polls the /health endpoint of a set of addresses.
// Each round classifies every address exactly once, without retries,
// and hands the result to the OnRound sink.
// Thread-safe: All methods are safe for concurrent access.
type Prober struct {
	targets    func() []string                              // Current addresses to probe
	checkFunc  func(ctx context.Context, addr string) error // Probe for one address
	onRound    func(Round)                                  // Sink for completed rounds
	httpClient *http.Client
	history    map[string]*TargetHealth
	log        zerolog.Logger
	interval   time.Duration // How often Run probes
	timeout    time.Duration // Per-address probe timeout
	mu         sync.RWMutex  // Protects history
	roundMu    sync.Mutex    // Serializes rounds from Run and Refresh
}

// NewProber creates a prober over the addresses returned by targets.
// A zero timeout defaults to one second.
//
// Example:
//
//	p := health.NewProber(bal.Pool, 5*time.Second, time.Second, log)
//	p.SetOnRound(func(r health.Round) { bal.Update(r.Healthy) })
//	go p.Run(ctx)
func NewProber(targets func() []string, interval, timeout time.Duration, log zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = time.Second
	}
	p := &Prober{
		targets:  targets,
		interval: interval,
		timeout:  timeout,
		history:  make(map[string]*TargetHealth),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With().Str("component", "prober").Logger(),
	}
	p.checkFunc = p.defaultHealthCheck
	return p
}

// SetOnRound sets the function invoked after every completed round
func (p *Prober) SetOnRound(fn func(Round)) {
	p.onRound = fn
}

// SetCheckFunction overrides the HTTP probe, mainly for tests
func (p *Prober) SetCheckFunction(fn func(ctx context.Context, addr string) error) {
	p.checkFunc = fn
}

// Run probes all targets immediately and then on every interval tick.
// It blocks until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.log.Warn().Msg("probe interval not set, prober disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.interval).Dur("timeout", p.timeout).Msg("prober started")

	p.Refresh(ctx)

	for {
		select {
		case <-ticker.C:
			p.Refresh(ctx)
		case <-ctx.Done():
			p.log.Info().Msg("prober stopped")
			return
		}
	}
}

// Refresh runs one probe round now, records it and passes it to the sink
func (p *Prober) Refresh(ctx context.Context) Round {
	p.roundMu.Lock()
	defer p.roundMu.Unlock()

	round := p.Probe(ctx, p.targets())
	p.record(round)

	if p.onRound != nil {
		p.onRound(round)
	}
	return round
}

// Probe checks every address concurrently and classifies it.
// It does not touch history or call the sink.
func (p *Prober) Probe(ctx context.Context, addrs []string) Round {
	round := Round{
		Started: time.Now(),
		Errors:  make(map[string]error),
	}

	errs := make([]error, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			errs[i] = p.checkFunc(checkCtx, addr)
		}(i, addr)
	}
	wg.Wait()

	for i, addr := range addrs {
		if errs[i] != nil {
			round.Unhealthy = append(round.Unhealthy, addr)
			round.Errors[addr] = errs[i]
			continue
		}
		round.Healthy = append(round.Healthy, addr)
	}
	return round
}

// record folds a round into per-address history and drops addresses
// that are no longer probed
func (p *Prober) record(round Round) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]bool, len(round.Healthy)+len(round.Unhealthy))

	for _, addr := range round.Healthy {
		current[addr] = true
		h := p.entry(addr)
		if h.Status == StatusUnhealthy {
			p.log.Info().Str("addr", addr).Msg("backend recovered")
		}
		h.Status = StatusHealthy
		h.LastCheck = round.Started
		h.LastHealthy = round.Started
		h.ConsecutiveFails = 0
		h.LastError = ""
	}

	for _, addr := range round.Unhealthy {
		current[addr] = true
		h := p.entry(addr)
		err := round.Errors[addr]
		if h.Status != StatusUnhealthy {
			p.log.Warn().Str("addr", addr).Err(err).Msg("backend marked unhealthy")
		}
		h.Status = StatusUnhealthy
		h.LastCheck = round.Started
		h.ConsecutiveFails++
		if err != nil {
			h.LastError = err.Error()
		}
	}

	for addr := range p.history {
		if !current[addr] {
			delete(p.history, addr)
		}
	}
}

func (p *Prober) entry(addr string) *TargetHealth {
	h, ok := p.history[addr]
	if !ok {
		h = &TargetHealth{Addr: addr, Status: StatusUnknown}
		p.history[addr] = h
	}
	return h
}

// Snapshot returns a copy of the probe history keyed by address
func (p *Prober) Snapshot() map[string]TargetHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]TargetHealth, len(p.history))
	for addr, h := range p.history {
		out[addr] = *h
	}
	return out
}

// defaultHealthCheck issues GET {addr}/health and accepts only 200 OK
func (p *Prober) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	url = strings.TrimRight(url, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
