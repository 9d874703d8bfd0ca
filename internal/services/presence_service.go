package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/rs/zerolog/log"
)

const (
	presenceShards = 64
	// lastSeenWriteTimeout bounds the Redis write made from the offline timer.
	lastSeenWriteTimeout = 3 * time.Second
)

// PresenceService tracks which connections watch which users and announces
// online/offline transitions to them. Offline announcements are delayed by a
// grace window so that brief reconnects stay invisible to watchers.
//
// Lock order is always watcher shard, then target shard.
type PresenceService struct {
	registry *ConnectionRegistry
	lastSeen repositories.PresenceRepository
	clock    clock.Clock
	grace    time.Duration

	targets  [presenceShards]targetShard
	watchers [presenceShards]watcherShard
}

// targetShard holds the forward index (target -> watching connections) and
// the offline announcements waiting for the grace window to pass.
type targetShard struct {
	mu       sync.Mutex
	watchers map[uuid.UUID]map[string]struct{}
	offline  map[uuid.UUID]*pendingOffline
}

// watcherShard holds the reverse index (connection -> watched targets).
type watcherShard struct {
	mu      sync.Mutex
	targets map[string]map[uuid.UUID]struct{}
}

type pendingOffline struct {
	timer *clock.Timer
	at    time.Time
}

func NewPresenceService(registry *ConnectionRegistry, lastSeen repositories.PresenceRepository, clk clock.Clock, grace time.Duration) *PresenceService {
	p := &PresenceService{
		registry: registry,
		lastSeen: lastSeen,
		clock:    clk,
		grace:    grace,
	}
	for i := range p.targets {
		p.targets[i].watchers = make(map[uuid.UUID]map[string]struct{})
		p.targets[i].offline = make(map[uuid.UUID]*pendingOffline)
	}
	for i := range p.watchers {
		p.watchers[i].targets = make(map[string]map[uuid.UUID]struct{})
	}

	registry.OnConnect(p.handleConnect)
	registry.OnDisconnect(p.handleDisconnect)
	return p
}

// Subscribe records that watcherConnID wants presence updates for target.
// Both indexes change under the same locks, so they never disagree.
func (p *PresenceService) Subscribe(watcherConnID string, target uuid.UUID) error {
	ws := p.watcherShard(watcherConnID)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	// Checked under the watcher lock: a disconnect removes the connection
	// before it clears the watcher's edges, so a late subscribe cannot leak.
	if !p.registry.HasConnection(watcherConnID) {
		return ErrConnectionNotFound
	}

	set, ok := ws.targets[watcherConnID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		ws.targets[watcherConnID] = set
	}
	set[target] = struct{}{}

	ts := p.targetShard(target)
	ts.mu.Lock()
	watchers, ok := ts.watchers[target]
	if !ok {
		watchers = make(map[string]struct{})
		ts.watchers[target] = watchers
	}
	watchers[watcherConnID] = struct{}{}
	ts.mu.Unlock()
	return nil
}

func (p *PresenceService) Unsubscribe(watcherConnID string, target uuid.UUID) {
	ws := p.watcherShard(watcherConnID)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if set, ok := ws.targets[watcherConnID]; ok {
		delete(set, target)
		if len(set) == 0 {
			delete(ws.targets, watcherConnID)
		}
	}
	p.dropWatcher(target, watcherConnID)
}

// UnsubscribeAll removes every edge of watcherConnID and returns how many
// targets it was watching.
func (p *PresenceService) UnsubscribeAll(watcherConnID string) int {
	ws := p.watcherShard(watcherConnID)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	set := ws.targets[watcherConnID]
	delete(ws.targets, watcherConnID)
	for target := range set {
		p.dropWatcher(target, watcherConnID)
	}
	return len(set)
}

// SubscribedCount returns how many targets watcherConnID watches.
func (p *PresenceService) SubscribedCount(watcherConnID string) int {
	ws := p.watcherShard(watcherConnID)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.targets[watcherConnID])
}

// WatchersOf returns the connections currently watching target.
func (p *PresenceService) WatchersOf(target uuid.UUID) []string {
	ts := p.targetShard(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]string, 0, len(ts.watchers[target]))
	for connID := range ts.watchers[target] {
		out = append(out, connID)
	}
	return out
}

// NotifyPresenceChange sends a presence update about userID to every
// connection watching it. Stale watchers are skipped silently.
func (p *PresenceService) NotifyPresenceChange(userID uuid.UUID, isOnline bool, lastSeen *time.Time) int {
	evt := models.Event{
		Name: models.EventPresenceUpdate,
		Data: models.PresenceUpdate{UserID: userID, IsOnline: isOnline, LastSeen: lastSeen},
	}

	sent := 0
	for _, connID := range p.WatchersOf(userID) {
		if err := p.registry.SendToConn(connID, evt); err != nil {
			log.Debug().Err(err).Str("conn_id", connID).Str("user_id", userID.String()).Msg("Skipping presence update")
			continue
		}
		sent++
	}
	return sent
}

// InitialStatuses reports the online state of each target as watchers see it.
// A user inside the offline grace window still counts as online.
func (p *PresenceService) InitialStatuses(targets []uuid.UUID) map[uuid.UUID]bool {
	statuses := make(map[uuid.UUID]bool, len(targets))
	for _, target := range targets {
		statuses[target] = p.registry.IsOnline(target) || p.offlinePending(target)
	}
	return statuses
}

// Snapshot builds the presence:init payload for a watcher that just
// subscribed to targets. A last-seen lookup failure degrades to statuses only.
func (p *PresenceService) Snapshot(ctx context.Context, watcherConnID string, targets []uuid.UUID) models.PresenceSnapshot {
	snap := models.PresenceSnapshot{
		Statuses:        p.InitialStatuses(targets),
		SubscribedCount: p.SubscribedCount(watcherConnID),
		ServerTime:      p.clock.Now().UTC(),
	}

	var offline []uuid.UUID
	for id, online := range snap.Statuses {
		if !online {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return snap
	}

	lastSeen, err := p.lastSeen.GetBulkLastSeen(ctx, offline)
	if err != nil {
		log.Warn().Err(err).Int("count", len(offline)).Msg("Failed to load last-seen times")
		return snap
	}
	snap.LastSeen = lastSeen
	return snap
}

func (p *PresenceService) handleConnect(userID uuid.UUID, _ string, first bool) {
	if !first {
		return
	}

	ts := p.targetShard(userID)
	ts.mu.Lock()
	pending, suppressed := ts.offline[userID]
	if suppressed {
		pending.timer.Stop()
		delete(ts.offline, userID)
	}
	ts.mu.Unlock()

	if suppressed {
		// Watchers never saw the user go offline.
		log.Debug().Str("user_id", userID.String()).Msg("Reconnected within grace window")
		return
	}
	p.NotifyPresenceChange(userID, true, nil)
}

func (p *PresenceService) handleDisconnect(userID uuid.UUID, connID string, last bool) {
	p.UnsubscribeAll(connID)
	if !last {
		return
	}

	at := p.clock.Now().UTC()
	ts := p.targetShard(userID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.offline[userID]; ok {
		return
	}
	pending := &pendingOffline{at: at}
	pending.timer = p.clock.AfterFunc(p.grace, func() { p.announceOffline(userID, pending) })
	ts.offline[userID] = pending
}

func (p *PresenceService) announceOffline(userID uuid.UUID, pending *pendingOffline) {
	ts := p.targetShard(userID)
	ts.mu.Lock()
	if ts.offline[userID] != pending {
		ts.mu.Unlock()
		return
	}
	delete(ts.offline, userID)
	ts.mu.Unlock()

	if p.registry.IsOnline(userID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lastSeenWriteTimeout)
	defer cancel()
	at := pending.at
	if err := p.lastSeen.SetLastSeen(ctx, userID, at); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to persist last-seen")
	}

	p.NotifyPresenceChange(userID, false, &at)
}

func (p *PresenceService) offlinePending(userID uuid.UUID) bool {
	ts := p.targetShard(userID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.offline[userID]
	return ok
}

// dropWatcher must be called with the watcher shard lock held.
func (p *PresenceService) dropWatcher(target uuid.UUID, watcherConnID string) {
	ts := p.targetShard(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	watchers, ok := ts.watchers[target]
	if !ok {
		return
	}
	delete(watchers, watcherConnID)
	if len(watchers) == 0 {
		delete(ts.watchers, target)
	}
}

func (p *PresenceService) targetShard(userID uuid.UUID) *targetShard {
	return &p.targets[xxhash.Sum64(userID[:])%presenceShards]
}

func (p *PresenceService) watcherShard(connID string) *watcherShard {
	return &p.watchers[xxhash.Sum64String(connID)%presenceShards]
}
