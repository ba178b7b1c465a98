// Package balancer keeps the rotation set of a backend pool and hands out
// backends in round-robin order.
//
// The rotation is an immutable snapshot with its own cursor. Update builds a
// fresh snapshot from a probe round and swaps it in with one atomic store, so
// a request handler that loaded the previous snapshot keeps indexing into a
// slice that never changes underneath it.
package balancer

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

var (
	// ErrEmptyPool is returned when no backend addresses are configured
	ErrEmptyPool = errors.New("backend pool is empty")
	// ErrExhausted is returned when every rotation member has been excluded
	ErrExhausted = errors.New("no untried backend left in rotation")
)

// rotation is one generation of the active set
type rotation struct {
	updatedAt  time.Time
	active     []string
	cursor     atomic.Uint64
	generation uint64
	failOpen   bool
}

// Snapshot is a read-only view of the current rotation
type Snapshot struct {
	UpdatedAt  time.Time `json:"updated_at"`
	Pool       []string  `json:"pool"`
	Active     []string  `json:"active"`
	Generation uint64    `json:"generation"`
	FailOpen   bool      `json:"fail_open"`
}

// Balancer selects backends from the healthy subset of a fixed pool.
// Safe for concurrent use.
type Balancer struct {
	current atomic.Pointer[rotation]
	log     zerolog.Logger
	pool    []string
}

// New creates a balancer over pool. Until the first Update every pool member
// is in rotation.
func New(pool []string, log zerolog.Logger) *Balancer {
	b := &Balancer{
		pool: slices.Clone(pool),
		log:  log.With().Str("component", "balancer").Logger(),
	}
	b.current.Store(&rotation{
		active:    slices.Clone(pool),
		updatedAt: time.Now(),
	})
	return b
}

// Pool returns the configured backend pool
func (b *Balancer) Pool() []string {
	return slices.Clone(b.pool)
}

// Update replaces the rotation with the pool members listed in healthy,
// keeping pool order. Addresses outside the pool are ignored.
//
// When healthy is empty the rotation falls back to the whole pool. This is
// fail-open: traffic may reach dead backends, but the gateway keeps
// answering instead of refusing every request.
func (b *Balancer) Update(healthy []string) {
	prev := b.current.Load()
	next := &rotation{
		generation: prev.generation + 1,
		updatedAt:  time.Now(),
	}
	for _, addr := range b.pool {
		if slices.Contains(healthy, addr) {
			next.active = append(next.active, addr)
		}
	}
	if len(next.active) == 0 {
		next.active = slices.Clone(b.pool)
		next.failOpen = len(b.pool) > 0
	}

	b.current.Store(next)

	switch {
	case next.failOpen:
		b.log.Warn().
			Int("pool", len(b.pool)).
			Msg("no healthy backends, failing open to full pool")
	case !slices.Equal(prev.active, next.active) || prev.failOpen:
		b.log.Info().
			Strs("active", next.active).
			Uint64("generation", next.generation).
			Msg("rotation changed")
	}
}

// Next returns the next backend of the current rotation
func (b *Balancer) Next() (string, error) {
	r := b.current.Load()
	if len(r.active) == 0 {
		return "", ErrEmptyPool
	}
	i := r.cursor.Add(1) - 1
	return r.active[i%uint64(len(r.active))], nil
}

// NextExcluding returns the next backend not listed in tried.
// Used to pick a sibling after a failed attempt.
func (b *Balancer) NextExcluding(tried []string) (string, error) {
	r := b.current.Load()
	n := uint64(len(r.active))
	if n == 0 {
		return "", ErrEmptyPool
	}
	for k := uint64(0); k < n; k++ {
		addr := r.active[(r.cursor.Add(1)-1)%n]
		if !slices.Contains(tried, addr) {
			return addr, nil
		}
	}
	return "", ErrExhausted
}

// Snapshot returns a copy of the current rotation
func (b *Balancer) Snapshot() Snapshot {
	r := b.current.Load()
	return Snapshot{
		Pool:       slices.Clone(b.pool),
		Active:     slices.Clone(r.active),
		FailOpen:   r.failOpen,
		Generation: r.generation,
		UpdatedAt:  r.updatedAt,
	}
}
