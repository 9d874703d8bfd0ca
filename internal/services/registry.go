package services

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/rs/zerolog/log"
)

const registryShards = 64

// Conn is one live transport session belonging to a single user.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Send(evt models.Event) error
	// Alive reports false once the transport is gone, even if Disconnect
	// was never called for it.
	Alive() bool
}

// ConnectHook runs after a connection is registered; first is true when the
// user had no other connection.
type ConnectHook func(userID uuid.UUID, connID string, first bool)

// DisconnectHook runs after a connection is removed; last is true when the
// user has no connection left.
type DisconnectHook func(userID uuid.UUID, connID string, last bool)

// ConnectionRegistry maps users to their live connections. Users are spread
// over shards so that unrelated users never share a lock.
type ConnectionRegistry struct {
	shards  [registryShards]registryShard
	conns   sync.Map // connID -> Conn
	metrics *Metrics

	hooksMu      sync.RWMutex
	onConnect    []ConnectHook
	onDisconnect []DisconnectHook
}

type registryShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]Conn
}

func NewConnectionRegistry(metrics *Metrics) *ConnectionRegistry {
	r := &ConnectionRegistry{metrics: metrics}
	for i := range r.shards {
		r.shards[i].users = make(map[uuid.UUID]map[string]Conn)
	}
	return r
}

func (r *ConnectionRegistry) OnConnect(fn ConnectHook) {
	r.hooksMu.Lock()
	r.onConnect = append(r.onConnect, fn)
	r.hooksMu.Unlock()
}

func (r *ConnectionRegistry) OnDisconnect(fn DisconnectHook) {
	r.hooksMu.Lock()
	r.onDisconnect = append(r.onDisconnect, fn)
	r.hooksMu.Unlock()
}

// Connect registers conn and reports whether it is the user's first connection.
func (r *ConnectionRegistry) Connect(conn Conn) bool {
	userID, connID := conn.UserID(), conn.ID()
	r.conns.Store(connID, conn)

	s := r.shardFor(userID)
	s.mu.Lock()
	set, ok := s.users[userID]
	if !ok {
		set = make(map[string]Conn)
		s.users[userID] = set
	}
	first := len(set) == 0
	set[connID] = conn
	s.mu.Unlock()

	r.metrics.connectionOpened(first)
	log.Debug().Str("user_id", userID.String()).Str("conn_id", connID).Bool("first", first).Msg("Connection registered")

	r.hooksMu.RLock()
	hooks := make([]ConnectHook, len(r.onConnect))
	copy(hooks, r.onConnect)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(userID, connID, first)
	}
	return first
}

// Disconnect removes connID. Unknown connections yield ErrConnectionNotFound,
// which callers treat as a no-op.
func (r *ConnectionRegistry) Disconnect(connID string) (uuid.UUID, bool, error) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return uuid.Nil, false, ErrConnectionNotFound
	}
	userID := v.(Conn).UserID()

	s := r.shardFor(userID)
	s.mu.Lock()
	removed, last := s.remove(userID, connID)
	s.mu.Unlock()

	if !removed {
		// Already pruned by a concurrent read; that path fired the hooks.
		return uuid.Nil, false, ErrConnectionNotFound
	}
	r.released(userID, connID, last)
	return userID, last, nil
}

func (r *ConnectionRegistry) IsOnline(userID uuid.UUID) bool {
	return len(r.ConnectionsFor(userID)) > 0
}

// ConnectionsFor returns the user's live connections, pruning any the
// transport already closed.
func (r *ConnectionRegistry) ConnectionsFor(userID uuid.UUID) []Conn {
	s := r.shardFor(userID)

	s.mu.RLock()
	set := s.users[userID]
	live := make([]Conn, 0, len(set))
	stale := false
	for _, c := range set {
		if c.Alive() {
			live = append(live, c)
		} else {
			stale = true
		}
	}
	s.mu.RUnlock()

	if stale {
		r.prune(userID)
	}
	return live
}

// SendToUser delivers evt to every live connection of userID and returns how
// many accepted it. Failures on individual connections are logged and skipped.
func (r *ConnectionRegistry) SendToUser(userID uuid.UUID, evt models.Event) int {
	delivered := 0
	for _, c := range r.ConnectionsFor(userID) {
		if err := c.Send(evt); err != nil {
			r.metrics.delivered(false)
			log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", evt.Name).Msg("Dropping event for stale connection")
			continue
		}
		r.metrics.delivered(true)
		delivered++
	}
	return delivered
}

func (r *ConnectionRegistry) SendToConn(connID string, evt models.Event) error {
	v, ok := r.conns.Load(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	c := v.(Conn)
	if !c.Alive() {
		r.prune(c.UserID())
		return ErrConnectionNotFound
	}
	if err := c.Send(evt); err != nil {
		r.metrics.delivered(false)
		return err
	}
	r.metrics.delivered(true)
	return nil
}

// HasConnection reports whether connID is registered.
func (r *ConnectionRegistry) HasConnection(connID string) bool {
	_, ok := r.conns.Load(connID)
	return ok
}

func (r *ConnectionRegistry) prune(userID uuid.UUID) {
	type pruned struct {
		connID string
		last   bool
	}
	var gone []pruned

	s := r.shardFor(userID)
	s.mu.Lock()
	for connID, c := range s.users[userID] {
		if c.Alive() {
			continue
		}
		_, last := s.remove(userID, connID)
		gone = append(gone, pruned{connID: connID, last: last})
	}
	s.mu.Unlock()

	for _, p := range gone {
		log.Debug().Str("user_id", userID.String()).Str("conn_id", p.connID).Msg("Pruned dead connection")
		r.released(userID, p.connID, p.last)
	}
}

func (r *ConnectionRegistry) released(userID uuid.UUID, connID string, last bool) {
	r.conns.Delete(connID)
	r.metrics.connectionClosed(last)

	r.hooksMu.RLock()
	hooks := make([]DisconnectHook, len(r.onDisconnect))
	copy(hooks, r.onDisconnect)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(userID, connID, last)
	}
}

func (r *ConnectionRegistry) shardFor(userID uuid.UUID) *registryShard {
	return &r.shards[xxhash.Sum64(userID[:])%registryShards]
}

// remove must be called with s.mu held.
func (s *registryShard) remove(userID uuid.UUID, connID string) (removed, last bool) {
	set, ok := s.users[userID]
	if !ok {
		return false, false
	}
	if _, ok := set[connID]; !ok {
		return false, false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.users, userID)
		return true, true
	}
	return true, false
}
