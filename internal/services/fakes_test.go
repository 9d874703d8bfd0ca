package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
)

// fakeCallRepo mirrors the Postgres semantics the service relies on: one
// non-terminal call per chat and a version compare-and-swap on update.
type fakeCallRepo struct {
	mu        sync.Mutex
	calls     map[uuid.UUID]*models.Call
	order     []uuid.UUID
	creates   int
	conflicts int   // number of upcoming updates to fail with ErrVersionConflict
	readErr   error // returned by GetActiveByChat when set
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{calls: make(map[uuid.UUID]*models.Call)}
}

func (r *fakeCallRepo) Create(_ context.Context, call *models.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.calls {
		if existing.ChatID == call.ChatID && !existing.Status.IsTerminal() {
			return repositories.ErrActiveCallExists
		}
	}
	call.ID = uuid.New()
	call.Version = 1
	r.calls[call.ID] = call.Clone()
	r.order = append(r.order, call.ID)
	r.creates++
	return nil
}

func (r *fakeCallRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return call.Clone(), nil
}

func (r *fakeCallRepo) GetActiveByChat(_ context.Context, chatID uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	for _, call := range r.calls {
		if call.ChatID == chatID && !call.Status.IsTerminal() {
			return call.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeCallRepo) GetLatestByChat(_ context.Context, chatID uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if call := r.calls[r.order[i]]; call.ChatID == chatID {
			return call.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeCallRepo) GetByRelayRoom(_ context.Context, chatID uuid.UUID, roomSID string) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if call := r.calls[r.order[i]]; call.ChatID == chatID && call.RelayRoomSID == roomSID {
			return call.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeCallRepo) Update(_ context.Context, call *models.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[call.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Version++
		return repositories.ErrVersionConflict
	}
	if stored.Version != call.Version {
		return repositories.ErrVersionConflict
	}
	call.Version++
	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *fakeCallRepo) latest(chatID uuid.UUID) *models.Call {
	call, err := r.GetLatestByChat(context.Background(), chatID)
	if err != nil {
		return nil
	}
	return call
}

func (r *fakeCallRepo) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates
}

func (r *fakeCallRepo) setReadErr(err error) {
	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()
}

type fakeMembership struct {
	mu      sync.Mutex
	chats   map[uuid.UUID]*models.Chat
	members map[uuid.UUID][]models.ChatMember
	listErr error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		chats:   make(map[uuid.UUID]*models.Chat),
		members: make(map[uuid.UUID][]models.ChatMember),
	}
}

func (m *fakeMembership) addChat(chatType models.ChatType, users ...uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	chatID := uuid.New()
	m.chats[chatID] = &models.Chat{ID: chatID, Type: chatType}
	for _, u := range users {
		m.members[chatID] = append(m.members[chatID], models.ChatMember{ChatID: chatID, UserID: u})
	}
	return chatID
}

func (m *fakeMembership) mute(chatID, userID uuid.UUID, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.members[chatID] {
		if m.members[chatID][i].UserID == userID {
			m.members[chatID][i].MutedUntil = &until
		}
	}
}

func (m *fakeMembership) GetChat(_ context.Context, chatID uuid.UUID) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

func (m *fakeMembership) ListMembers(_ context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if _, ok := m.chats[chatID]; !ok {
		return nil, repositories.ErrNotFound
	}
	return append([]models.ChatMember(nil), m.members[chatID]...), nil
}

func (m *fakeMembership) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members[chatID] {
		if member.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeBlocks struct {
	mu     sync.Mutex
	blocks map[uuid.UUID][]uuid.UUID
}

func (b *fakeBlocks) block(a, c uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocks == nil {
		b.blocks = make(map[uuid.UUID][]uuid.UUID)
	}
	b.blocks[a] = append(b.blocks[a], c)
	b.blocks[c] = append(b.blocks[c], a)
}

func (b *fakeBlocks) BlockedUserIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uuid.UUID(nil), b.blocks[userID]...), nil
}

type fakePresenceRepo struct {
	mu       sync.Mutex
	lastSeen map[uuid.UUID]time.Time
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{lastSeen: make(map[uuid.UUID]time.Time)}
}

func (r *fakePresenceRepo) SetLastSeen(_ context.Context, userID uuid.UUID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[userID] = lastSeen
	return nil
}

func (r *fakePresenceRepo) GetBulkLastSeen(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]time.Time)
	for _, id := range userIDs {
		if t, ok := r.lastSeen[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (r *fakePresenceRepo) get(userID uuid.UUID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

type fakeConn struct {
	id      string
	userID  uuid.UUID
	dead    atomic.Bool
	mu      sync.Mutex
	events  []models.Event
	sendErr error
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.NewString(), userID: userID}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }
func (c *fakeConn) Alive() bool       { return !c.dead.Load() }

func (c *fakeConn) Send(evt models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) named(name string) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, evt := range c.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

// fakeRelay keeps one open room per name, like LiveKit: creating an open
// room returns its sid, and a room deleted and created again gets a new sid.
type fakeRelay struct {
	mu           sync.Mutex
	open         map[string]string // name -> sid
	opened       int
	deleted      []string
	participants map[string][]string
	deleteErr    error
	onDelete     func()
}

func (r *fakeRelay) CreateRoom(_ context.Context, room string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.open[room]; ok {
		return sid, nil
	}
	if r.open == nil {
		r.open = make(map[string]string)
	}
	r.opened++
	sid := fmt.Sprintf("RM_%d", r.opened)
	r.open[room] = sid
	return sid, nil
}

func (r *fakeRelay) DeleteRoom(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, room)
	if r.onDelete != nil {
		r.onDelete()
	}
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.open, room)
	return nil
}

func (r *fakeRelay) setDeleteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteErr = err
}

func (r *fakeRelay) ListParticipants(_ context.Context, room string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.participants[room]...), nil
}

func (r *fakeRelay) deletedRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func (r *fakeRelay) setParticipants(room string, identities ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.participants == nil {
		r.participants = make(map[string][]string)
	}
	r.participants[room] = identities
}

var errBoom = errors.New("boom")

type testEnv struct {
	clock    *clock.Mock
	registry *ConnectionRegistry
	presence *PresenceService
	notifier *Notifier
	pending  *PendingCalls
	calls    *CallService
	webhooks *WebhookService

	callRepo *fakeCallRepo
	members  *fakeMembership
	blocks   *fakeBlocks
	lastSeen *fakePresenceRepo
	relay    *fakeRelay
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    clock.NewMock(),
		callRepo: newFakeCallRepo(),
		members:  newFakeMembership(),
		blocks:   &fakeBlocks{},
		lastSeen: newFakePresenceRepo(),
		relay:    &fakeRelay{},
	}
	env.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	env.registry = NewConnectionRegistry(nil)
	env.presence = NewPresenceService(env.registry, env.lastSeen, env.clock, 5*time.Second)
	env.notifier = NewNotifier(env.members, env.blocks, env.registry, env.clock, nil)
	env.pending = NewPendingCalls(env.clock, 60*time.Second, 10*time.Second, nil)
	env.calls = NewCallService(env.callRepo, env.members, env.notifier, env.pending, env.relay, env.clock, nil)
	env.webhooks = NewWebhookService(env.calls, env.clock, 10*time.Minute, nil)
	return env
}

func (e *testEnv) connect(userID uuid.UUID) *fakeConn {
	conn := newFakeConn(userID)
	e.registry.Connect(conn)
	return conn
}
