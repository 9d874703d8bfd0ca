package handlers

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/relay"
	"github.com/prudhvinik1/edgecall/internal/services"
)

// MediaGateway is the part of the media relay the HTTP boundary talks to
// directly.
type MediaGateway interface {
	IssueToken(room, identity, name, metadata string) (*relay.MediaToken, error)
	ListParticipants(ctx context.Context, room string) ([]string, error)
	ReceiveWebhook(r *http.Request) (models.RelayEvent, error)
}

type Deps struct {
	Auth        *services.AuthService
	Registry    *services.ConnectionRegistry
	Presence    *services.PresenceService
	Notifier    *services.Notifier
	Calls       *services.CallService
	Webhooks    *services.WebhookService
	Media       MediaGateway
	Clock       clock.Clock
	InternalKey string
}

type Handler struct {
	auth        *services.AuthService
	registry    *services.ConnectionRegistry
	presence    *services.PresenceService
	notifier    *services.Notifier
	calls       *services.CallService
	webhooks    *services.WebhookService
	media       MediaGateway
	clock       clock.Clock
	internalKey string
}

func NewHandler(deps Deps) *Handler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		auth:        deps.Auth,
		registry:    deps.Registry,
		presence:    deps.Presence,
		notifier:    deps.Notifier,
		calls:       deps.Calls,
		webhooks:    deps.Webhooks,
		media:       deps.Media,
		clock:       clk,
		internalKey: deps.InternalKey,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", h.ServeWS)

	r.Post("/calls/webhook", h.ReceiveWebhook)
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/calls/token", h.IssueMediaToken)
		r.Get("/calls/pending", h.PendingCalls)
		r.Get("/calls/active/{chatId}", h.ActiveCall)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireInternalKey)
		r.Post("/internal/chats/{chatId}/events", h.EmitChatEvent)
	})

	return r
}
