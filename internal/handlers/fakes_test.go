package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/relay"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/prudhvinik1/edgecall/internal/services"
	"github.com/redis/go-redis/v9"
)

const (
	testJWTSecret   = "handler-test-secret"
	testInternalKey = "internal-test-key"
)

type memCallRepo struct {
	mu    sync.Mutex
	calls []*models.Call
}

func (r *memCallRepo) Create(_ context.Context, call *models.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ChatID == call.ChatID && !c.Status.IsTerminal() {
			return repositories.ErrActiveCallExists
		}
	}
	call.ID = uuid.New()
	call.Version = 1
	r.calls = append(r.calls, call.Clone())
	return nil
}

func (r *memCallRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ID == id {
			return c.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memCallRepo) GetActiveByChat(_ context.Context, chatID uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ChatID == chatID && !c.Status.IsTerminal() {
			return c.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memCallRepo) GetLatestByChat(_ context.Context, chatID uuid.UUID) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].ChatID == chatID {
			return r.calls[i].Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memCallRepo) GetByRelayRoom(_ context.Context, chatID uuid.UUID, roomSID string) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].ChatID == chatID && r.calls[i].RelayRoomSID == roomSID {
			return r.calls[i].Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memCallRepo) Update(_ context.Context, call *models.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.calls {
		if c.ID != call.ID {
			continue
		}
		if c.Version != call.Version {
			return repositories.ErrVersionConflict
		}
		call.Version++
		r.calls[i] = call.Clone()
		return nil
	}
	return repositories.ErrNotFound
}

type memMembership struct {
	mu      sync.Mutex
	chats   map[uuid.UUID]models.ChatType
	members map[uuid.UUID][]uuid.UUID
}

func (m *memMembership) addChat(chatType models.ChatType, users ...uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	chatID := uuid.New()
	m.chats[chatID] = chatType
	m.members[chatID] = users
	return chatID
}

func (m *memMembership) GetChat(_ context.Context, chatID uuid.UUID) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chatType, ok := m.chats[chatID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &models.Chat{ID: chatID, Type: chatType}, nil
}

func (m *memMembership) ListMembers(_ context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return nil, repositories.ErrNotFound
	}
	var out []models.ChatMember
	for _, u := range m.members[chatID] {
		out = append(out, models.ChatMember{ChatID: chatID, UserID: u})
	}
	return out, nil
}

func (m *memMembership) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.members[chatID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

type noBlocks struct{}

func (noBlocks) BlockedUserIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) { return nil, nil }

// fakeMedia stands in for the relay. Webhooks are accepted when the request
// carries the Authorization header "signed" and decode to nextEvent.
type fakeMedia struct {
	mu           sync.Mutex
	participants []string
	nextEvent    models.RelayEvent
	rooms        int
	deleted      []string
	tokens       []string
}

func (f *fakeMedia) IssueToken(room, identity, name, metadata string) (*relay.MediaToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, identity+"@"+room+"|"+name+"|"+metadata)
	return &relay.MediaToken{Token: "media-token", URL: "wss://relay.test", Room: room}, nil
}

func (f *fakeMedia) ListParticipants(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.participants...), nil
}

func (f *fakeMedia) CreateRoom(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms++
	return fmt.Sprintf("RM_%d", f.rooms), nil
}

func (f *fakeMedia) DeleteRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, room)
	return nil
}

func (f *fakeMedia) ReceiveWebhook(r *http.Request) (models.RelayEvent, error) {
	if r.Header.Get("Authorization") != "signed" {
		return models.RelayEvent{}, services.ErrInvalidToken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextEvent, nil
}

type testServer struct {
	handler *Handler
	router  http.Handler
	auth    *services.AuthService
	calls   *services.CallService
	members *memMembership
	media   *fakeMedia
	clock   *clock.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	members := &memMembership{chats: map[uuid.UUID]models.ChatType{}, members: map[uuid.UUID][]uuid.UUID{}}
	media := &fakeMedia{}
	auth := services.NewAuthService(testJWTSecret, time.Hour)

	registry := services.NewConnectionRegistry(nil)
	presence := services.NewPresenceService(registry, repositories.NewRedisPresenceRepository(client), clk, 5*time.Second)
	notifier := services.NewNotifier(members, noBlocks{}, registry, clk, nil)
	pending := services.NewPendingCalls(clk, time.Minute, 10*time.Second, nil)
	calls := services.NewCallService(&memCallRepo{}, members, notifier, pending, media, clk, nil)
	webhooks := services.NewWebhookService(calls, clk, 10*time.Minute, nil)

	h := NewHandler(Deps{
		Auth:        auth,
		Registry:    registry,
		Presence:    presence,
		Notifier:    notifier,
		Calls:       calls,
		Webhooks:    webhooks,
		Media:       media,
		Clock:       clk,
		InternalKey: testInternalKey,
	})
	return &testServer{
		handler: h,
		router:  h.NewRouter(),
		auth:    auth,
		calls:   calls,
		members: members,
		media:   media,
		clock:   clk,
	}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, _, err := s.auth.IssueToken(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}
