package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/rs/zerolog/log"
)

type pendingKey struct {
	chatID   uuid.UUID
	calleeID uuid.UUID
}

// PendingCalls remembers incoming-call notifications so that a callee who
// connects late still learns about a ringing call. Entries expire after ttl.
type PendingCalls struct {
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration
	metrics  *Metrics

	mu      sync.Mutex
	entries map[pendingKey]models.PendingCall

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPendingCalls(clk clock.Clock, ttl, sweepInterval time.Duration, metrics *Metrics) *PendingCalls {
	return &PendingCalls{
		clock:    clk,
		ttl:      ttl,
		interval: sweepInterval,
		metrics:  metrics,
		entries:  make(map[pendingKey]models.PendingCall),
	}
}

// Add records entry, replacing any earlier entry for the same chat and callee.
func (p *PendingCalls) Add(entry models.PendingCall) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.clock.Now().UTC()
	}

	p.mu.Lock()
	p.entries[pendingKey{entry.ChatID, entry.CalleeID}] = entry
	n := len(p.entries)
	p.mu.Unlock()

	p.metrics.pendingCalls(n)
}

func (p *PendingCalls) Remove(chatID, calleeID uuid.UUID) bool {
	p.mu.Lock()
	key := pendingKey{chatID, calleeID}
	_, ok := p.entries[key]
	delete(p.entries, key)
	n := len(p.entries)
	p.mu.Unlock()

	p.metrics.pendingCalls(n)
	return ok
}

// RemoveChat drops every entry for chatID and returns how many it removed.
func (p *PendingCalls) RemoveChat(chatID uuid.UUID) int {
	p.mu.Lock()
	removed := 0
	for key := range p.entries {
		if key.chatID == chatID {
			delete(p.entries, key)
			removed++
		}
	}
	n := len(p.entries)
	p.mu.Unlock()

	p.metrics.pendingCalls(n)
	return removed
}

func (p *PendingCalls) Has(chatID, calleeID uuid.UUID) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[pendingKey{chatID, calleeID}]
	return ok && !p.expired(entry, now)
}

// ListForCallee returns the unexpired entries addressed to calleeID, oldest
// first.
func (p *PendingCalls) ListForCallee(calleeID uuid.UUID) []models.PendingCall {
	now := p.clock.Now()

	p.mu.Lock()
	out := make([]models.PendingCall, 0)
	for key, entry := range p.entries {
		if key.calleeID == calleeID && !p.expired(entry, now) {
			out = append(out, entry)
		}
	}
	p.mu.Unlock()

	slices.SortFunc(out, func(a, b models.PendingCall) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Sweep removes expired entries and returns how many it removed.
func (p *PendingCalls) Sweep() int {
	now := p.clock.Now()

	p.mu.Lock()
	removed := 0
	for key, entry := range p.entries {
		if p.expired(entry, now) {
			delete(p.entries, key)
			removed++
		}
	}
	n := len(p.entries)
	p.mu.Unlock()

	p.metrics.pendingCalls(n)
	return removed
}

func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Start launches the background sweeper.
func (p *PendingCalls) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx, p.clock.Ticker(p.interval))
	log.Info().Dur("ttl", p.ttl).Dur("interval", p.interval).Msg("Pending call sweeper started")
}

// Stop halts the sweeper and waits for it to exit.
func (p *PendingCalls) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	log.Info().Msg("Pending call sweeper stopped")
}

func (p *PendingCalls) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("Swept pending calls")
			}
		}
	}
}

func (p *PendingCalls) expired(entry models.PendingCall, now time.Time) bool {
	return !now.Before(entry.CreatedAt.Add(p.ttl))
}
