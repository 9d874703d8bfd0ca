package services

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/rs/zerolog/log"
)

// EmitOptions controls chat fan-out. A zero SenderID means the event is
// server-originated and no sender checks apply.
type EmitOptions struct {
	SenderID      uuid.UUID
	ExcludeSender bool
}

// Notifier fans chat events out to members' live connections.
type Notifier struct {
	members  repositories.MembershipRepository
	blocks   repositories.BlockRepository
	registry *ConnectionRegistry
	clock    clock.Clock
	metrics  *Metrics
}

func NewNotifier(
	members repositories.MembershipRepository,
	blocks repositories.BlockRepository,
	registry *ConnectionRegistry,
	clk clock.Clock,
	metrics *Metrics,
) *Notifier {
	return &Notifier{
		members:  members,
		blocks:   blocks,
		registry: registry,
		clock:    clk,
		metrics:  metrics,
	}
}

// EmitToChatMembers delivers event to every eligible member of chatID and
// returns the members it was addressed to, online or not.
//
// Members in a block relationship with the sender are skipped. Muting never
// suppresses delivery; it only sets meta.isMuted for the client to honor.
// A member-list failure aborts the whole fan-out before anything is sent.
func (n *Notifier) EmitToChatMembers(ctx context.Context, chatID uuid.UUID, event string, payload any, opts EmitOptions) ([]uuid.UUID, error) {
	members, err := n.members.ListMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of chat %s: %w", chatID, err)
	}

	blocked := map[uuid.UUID]struct{}{}
	if opts.SenderID != uuid.Nil {
		isMember := false
		for _, m := range members {
			if m.UserID == opts.SenderID {
				isMember = true
				break
			}
		}
		if !isMember {
			return nil, ErrNotMember
		}

		ids, err := n.blocks.BlockedUserIDs(ctx, opts.SenderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load blocks for %s: %w", opts.SenderID, err)
		}
		for _, id := range ids {
			blocked[id] = struct{}{}
		}
	}

	now := n.clock.Now()
	recipients := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		isSender := opts.SenderID != uuid.Nil && m.UserID == opts.SenderID
		if isSender && opts.ExcludeSender {
			n.metrics.skipped("sender")
			continue
		}
		if _, ok := blocked[m.UserID]; ok {
			n.metrics.skipped("blocked")
			continue
		}

		n.registry.SendToUser(m.UserID, models.Event{
			Name: event,
			Data: models.ChatEnvelope{
				Payload: payload,
				Meta:    models.EventMeta{IsMuted: m.IsMuted(now), IsSender: isSender},
			},
		})
		recipients = append(recipients, m.UserID)
	}

	log.Debug().
		Str("chat_id", chatID.String()).
		Str("event", event).
		Int("recipients", len(recipients)).
		Msg("Fan-out complete")
	return recipients, nil
}

// EmitToUser sends event to every live connection of userID.
func (n *Notifier) EmitToUser(userID uuid.UUID, event string, payload any) int {
	return n.registry.SendToUser(userID, models.Event{Name: event, Data: payload})
}
