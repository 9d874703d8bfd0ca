package services

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/prudhvinik1/edgecall/internal/utils"
	"github.com/rs/zerolog/log"
)

const webhookDedupeMaxSize = 100_000

// WebhookService maps relay room/participant events onto call transitions.
// The relay delivers at least once and may reorder; duplicates are dropped by
// event id, events from a room other than the active call's are ignored, and
// every transition it triggers is idempotent.
type WebhookService struct {
	calls   *CallService
	dedupe  *utils.DedupeCache
	clock   clock.Clock
	metrics *Metrics
}

func NewWebhookService(calls *CallService, clk clock.Clock, dedupeTTL time.Duration, metrics *Metrics) *WebhookService {
	return &WebhookService{
		calls:   calls,
		dedupe:  utils.NewDedupeCache(dedupeTTL, webhookDedupeMaxSize),
		clock:   clk,
		metrics: metrics,
	}
}

// Handle processes one verified relay event. It returns an error only for
// failures worth a redelivery; events that can never succeed are logged and
// acknowledged.
func (w *WebhookService) Handle(ctx context.Context, evt models.RelayEvent) error {
	if w.dedupe.SeenAt(evt.ID, w.clock.Now()) {
		w.metrics.webhook(evt.Event, "duplicate")
		log.Debug().Str("event_id", evt.ID).Str("event", evt.Event).Msg("Dropping duplicate relay event")
		return nil
	}

	err := w.dispatch(ctx, evt)
	switch {
	case err == nil:
		w.metrics.webhook(evt.Event, "ok")
		return nil
	case permanent(err):
		w.metrics.webhook(evt.Event, "rejected")
		log.Warn().Err(err).Str("event_id", evt.ID).Str("event", evt.Event).Str("room", evt.Room.Name).Msg("Relay event rejected")
		return nil
	default:
		// Let the relay's retry through the dedupe window.
		w.dedupe.Forget(evt.ID)
		w.metrics.webhook(evt.Event, "error")
		return err
	}
}

func (w *WebhookService) dispatch(ctx context.Context, evt models.RelayEvent) error {
	chatID, err := uuid.Parse(evt.Room.Name)
	if err != nil {
		log.Debug().Str("room", evt.Room.Name).Str("event", evt.Event).Msg("Ignoring event for unmanaged room")
		return nil
	}

	switch evt.Event {
	case models.RelayRoomStarted:
		log.Debug().Str("chat_id", chatID.String()).Msg("Relay room started")
		return nil

	case models.RelayRoomFinished:
		_, err := w.calls.RoomFinished(ctx, chatID, evt.Room)
		return err

	case models.RelayParticipantJoined:
		userID, ok := participant(evt)
		if !ok {
			return nil
		}
		call, err := w.calls.ParticipantJoined(ctx, chatID, userID, evt.Room)
		if err != nil {
			return err
		}
		if call != nil && evt.Room.NumParticipants > 0 && evt.Room.NumParticipants < len(call.CurrentParticipants) {
			// The relay sees fewer people than we do; a leave went missing.
			_, err = w.calls.Reconcile(ctx, chatID)
		}
		return err

	case models.RelayParticipantLeft:
		userID, ok := participant(evt)
		if !ok {
			return nil
		}
		_, err := w.calls.ParticipantLeft(ctx, chatID, userID, evt.Room)
		return err

	case models.RelayParticipantConnectionAborted:
		_, err := w.calls.FailUnanswered(ctx, chatID, evt.Room)
		return err

	case models.RelayTrackPublished, models.RelayTrackUnpublished:
		userID, ok := participant(evt)
		if !ok || evt.Track == nil {
			return nil
		}
		return w.calls.TrackChanged(ctx, chatID, userID, evt.Room, *evt.Track, evt.Event == models.RelayTrackPublished)

	default:
		log.Info().Str("event", evt.Event).Str("chat_id", chatID.String()).Msg("Ignoring unrecognized relay event")
		return nil
	}
}

func participant(evt models.RelayEvent) (uuid.UUID, bool) {
	if evt.Participant == nil {
		log.Warn().Str("event", evt.Event).Str("event_id", evt.ID).Msg("Relay event without participant")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(evt.Participant.Identity)
	if err != nil {
		log.Warn().Str("identity", evt.Participant.Identity).Msg("Relay participant identity is not a user id")
		return uuid.Nil, false
	}
	return id, true
}

// permanent reports errors a redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, repositories.ErrNotFound)
}
