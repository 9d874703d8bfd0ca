package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/prudhvinik1/edgecall/internal/utils"
	"github.com/rs/zerolog/log"
)

// maxCallWriteAttempts bounds the read-modify-write retries against
// concurrent writers on other instances.
const maxCallWriteAttempts = 5

// MediaRelay is the external media server hosting one room per chat.
type MediaRelay interface {
	// CreateRoom opens room, or returns the one already open, and reports its sid.
	CreateRoom(ctx context.Context, room string) (string, error)
	DeleteRoom(ctx context.Context, room string) error
	ListParticipants(ctx context.Context, room string) ([]string, error)
}

// RoomName is the relay room that hosts calls for chatID. Every call in a chat
// reuses the name; the room sid tells the instances apart.
func RoomName(chatID uuid.UUID) string {
	return chatID.String()
}

// sameRoom reports whether room is the relay room hosting call. A missing sid
// on either side counts as a match.
func sameRoom(call *models.Call, room models.RelayRoom) bool {
	return room.SID == "" || call.RelayRoomSID == "" || call.RelayRoomSID == room.SID
}

// CallService owns the call lifecycle. Every mutation runs under a per-chat
// lock and is persisted with a version compare-and-swap, so two writers can
// never both create or both terminate the same call.
type CallService struct {
	calls    repositories.CallRepository
	members  repositories.MembershipRepository
	notifier *Notifier
	pending  *PendingCalls
	relay    MediaRelay
	clock    clock.Clock
	locks    *utils.KeyedMutex
	metrics  *Metrics
}

func NewCallService(
	calls repositories.CallRepository,
	members repositories.MembershipRepository,
	notifier *Notifier,
	pending *PendingCalls,
	relay MediaRelay,
	clk clock.Clock,
	metrics *Metrics,
) *CallService {
	return &CallService{
		calls:    calls,
		members:  members,
		notifier: notifier,
		pending:  pending,
		relay:    relay,
		clock:    clk,
		locks:    utils.NewKeyedMutex(),
		metrics:  metrics,
	}
}

type memberAction struct {
	userID uuid.UUID
	action string
}

// callChange describes what one operation did to the chat's active call.
type callChange struct {
	call     *models.Call
	from     models.CallStatus
	created  bool
	dirty    bool
	members  []memberAction
	resolved []uuid.UUID // callees whose pending entry is settled
}

func (c *callChange) ended() bool {
	return c.call != nil && c.dirty && c.call.Status.IsTerminal() && !c.from.IsTerminal()
}

func (c *callChange) member(userID uuid.UUID, action string) {
	c.members = append(c.members, memberAction{userID: userID, action: action})
}

// callOp inspects the active call (nil when there is none) and returns the
// change to persist. It may run more than once when a write conflicts.
type callOp func(ctx context.Context, chat *models.Chat, call *models.Call, now time.Time) (*callChange, error)

func unchanged(call *models.Call) *callChange {
	change := &callChange{call: call}
	if call != nil {
		change.from = call.Status
	}
	return change
}

func (s *CallService) Initiate(ctx context.Context, chatID, userID uuid.UUID, isVideo bool) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(ctx context.Context, chat *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call != nil {
			return nil, ErrCallAlreadyActive
		}
		// CreateRoom would hand back the previous call's room if it survived.
		if _, err := s.releaseLocked(ctx, chat.ID, models.RelayRoom{}); err != nil {
			return nil, err
		}
		sid, err := s.relay.CreateRoom(ctx, RoomName(chat.ID))
		if err != nil {
			return nil, err
		}
		return s.newCall(chat, userID, isVideo, sid, now)
	})
}

// Accept answers a ringing call. The initiator cannot accept its own call.
func (s *CallService) Accept(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return nil, ErrCallNotActive
		}
		if call.Status == models.CallStatusDialing && call.InitiatorID == userID {
			return nil, fmt.Errorf("%w: initiator cannot accept its own call", ErrInvalidTransition)
		}
		return s.admitOp(call, userID, now)
	})
}

// Join admits userID into the active call. Joining twice is a no-op.
func (s *CallService) Join(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return nil, ErrCallNotActive
		}
		return s.admitOp(call, userID, now)
	})
}

// Reject declines a ringing call. In a direct chat this ends the call; in a
// group it only settles the rejecting member's invitation.
func (s *CallService) Reject(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return nil, ErrCallNotActive
		}
		change := unchanged(call)
		change.resolved = []uuid.UUID{userID}

		if call.IsGroup {
			if call.InitiatorID == userID {
				return nil, fmt.Errorf("%w: initiator cannot reject its own call", ErrInvalidTransition)
			}
			change.member(userID, models.MemberRejected)
			return change, nil
		}
		if err := transition(call, models.CallStatusDeclined, now); err != nil {
			return nil, err
		}
		change.dirty = true
		change.member(userID, models.MemberRejected)
		return change, nil
	})
}

// HangUp leaves the active call. The initiator hanging up a ringing call
// cancels it; a direct-chat callee hanging up a ringing call rejects it.
// Hanging up with no active call succeeds without effect.
func (s *CallService) HangUp(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return unchanged(nil), nil
		}
		change := unchanged(call)
		change.resolved = []uuid.UUID{userID}

		switch {
		case call.Status == models.CallStatusDialing && call.InitiatorID == userID && !call.IsBroadcast:
			if err := transition(call, models.CallStatusDeclined, now); err != nil {
				return nil, err
			}
			change.dirty = true
			change.member(userID, models.MemberLeft)
		case !call.IsParticipant(userID):
			if call.IsGroup || call.Status != models.CallStatusDialing {
				return change, nil
			}
			if err := transition(call, models.CallStatusDeclined, now); err != nil {
				return nil, err
			}
			change.dirty = true
			change.member(userID, models.MemberRejected)
		default:
			call.RemoveParticipant(userID)
			change.dirty = true
			change.member(userID, models.MemberLeft)
			if err := settleAfterLeave(call, userID, now); err != nil {
				return nil, err
			}
		}
		return change, nil
	})
}

// End terminates the call for everyone. Broadcasts can only be ended by their
// initiator.
func (s *CallService) End(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return nil, ErrCallNotActive
		}
		if call.InitiatorID != userID && (call.IsBroadcast || !call.IsParticipant(userID)) {
			return nil, ErrForbidden
		}
		change := unchanged(call)
		if err := transition(call, finishStatus(call), now); err != nil {
			return nil, err
		}
		change.dirty = true
		return change, nil
	})
}

// ParticipantJoined records a relay join. With no active call it starts one
// with userID as initiator, unless the room hosted a call that already ended.
// Joins from a room other than the active call's are ignored.
func (s *CallService) ParticipantJoined(ctx context.Context, chatID, userID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	return s.run(ctx, chatID, userID, func(ctx context.Context, chat *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call != nil {
			if !sameRoom(call, room) {
				ignoreRoom(call, room, models.RelayParticipantJoined)
				return unchanged(nil), nil
			}
			bound := call.RelayRoomSID == "" && room.SID != ""
			if bound {
				call.RelayRoomSID = room.SID
			}
			change, err := s.admitOp(call, userID, now)
			if err != nil {
				return nil, err
			}
			change.dirty = change.dirty || bound
			return change, nil
		}

		stale, err := s.staleRoom(ctx, chat.ID, room)
		if err != nil {
			return nil, err
		}
		if stale {
			log.Info().
				Str("chat_id", chat.ID.String()).
				Str("user_id", userID.String()).
				Str("room_sid", room.SID).
				Msg("Ignoring join for the room of an ended call")
			return unchanged(nil), nil
		}
		return s.newCall(chat, userID, false, room.SID, now)
	})
}

// ParticipantLeft records a relay leave. Unknown participants and other rooms
// are ignored so redelivered and late events stay harmless. When no call is
// affected, a teardown that failed earlier is retried.
func (s *CallService) ParticipantLeft(ctx context.Context, chatID, userID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	call, err := s.run(ctx, chatID, uuid.Nil, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return unchanged(nil), nil
		}
		if !sameRoom(call, room) {
			ignoreRoom(call, room, models.RelayParticipantLeft)
			return unchanged(nil), nil
		}
		if !call.RemoveParticipant(userID) {
			return unchanged(call), nil
		}
		change := &callChange{call: call, from: call.Status, dirty: true}
		change.member(userID, models.MemberLeft)
		if err := settleAfterLeave(call, userID, now); err != nil {
			return nil, err
		}
		return change, nil
	})
	if err != nil || call != nil {
		return call, err
	}
	return s.release(ctx, chatID, room)
}

// RoomFinished ends the active call once the relay closed its room. When no
// call is affected, a teardown that failed earlier is retried.
func (s *CallService) RoomFinished(ctx context.Context, chatID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	call, err := s.run(ctx, chatID, uuid.Nil, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return unchanged(nil), nil
		}
		if !sameRoom(call, room) {
			ignoreRoom(call, room, models.RelayRoomFinished)
			return unchanged(nil), nil
		}
		change := unchanged(call)
		if err := transition(call, finishStatus(call), now); err != nil {
			return nil, err
		}
		change.dirty = true
		return change, nil
	})
	if err != nil || call != nil {
		return call, err
	}
	return s.release(ctx, chatID, room)
}

// Fail marks the active call FAILED after an unrecoverable relay error.
func (s *CallService) Fail(ctx context.Context, chatID uuid.UUID) (*models.Call, error) {
	return s.fail(ctx, chatID, models.RelayRoom{}, models.CallStatusDialing, models.CallStatusInProgress)
}

// FailUnanswered fails the active call only if it never started and is hosted
// by room.
func (s *CallService) FailUnanswered(ctx context.Context, chatID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	return s.fail(ctx, chatID, room, models.CallStatusDialing)
}

func (s *CallService) fail(ctx context.Context, chatID uuid.UUID, room models.RelayRoom, from ...models.CallStatus) (*models.Call, error) {
	return s.run(ctx, chatID, uuid.Nil, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil {
			return unchanged(nil), nil
		}
		if !sameRoom(call, room) {
			ignoreRoom(call, room, models.RelayParticipantConnectionAborted)
			return unchanged(nil), nil
		}
		change := unchanged(call)
		if !slices.Contains(from, call.Status) {
			return change, nil
		}
		if err := transition(call, models.CallStatusFailed, now); err != nil {
			return nil, err
		}
		change.dirty = true
		return change, nil
	})
}

// Reconcile drops participants the relay no longer reports. It repairs state
// after a leave event was lost or arrived before its join.
func (s *CallService) Reconcile(ctx context.Context, chatID uuid.UUID) (*models.Call, error) {
	before, err := s.calls.GetActiveByChat(ctx, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active call: %w", err)
	}

	identities, err := s.relay.ListParticipants(ctx, RoomName(chatID))
	if err != nil {
		return nil, fmt.Errorf("failed to list relay participants: %w", err)
	}
	present := make(map[uuid.UUID]struct{}, len(identities))
	for _, identity := range identities {
		if id, err := uuid.Parse(identity); err == nil {
			present[id] = struct{}{}
		}
	}

	// Only users that were in the call before listing are candidates; a join
	// that raced the listing must survive.
	var gone []uuid.UUID
	for _, id := range before.CurrentParticipants {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return before, nil
	}

	return s.run(ctx, chatID, uuid.Nil, func(_ context.Context, _ *models.Chat, call *models.Call, now time.Time) (*callChange, error) {
		if call == nil || call.ID != before.ID {
			return unchanged(call), nil
		}
		change := unchanged(call)
		for _, id := range gone {
			if !call.RemoveParticipant(id) {
				continue
			}
			change.dirty = true
			change.member(id, models.MemberLeft)
			if err := settleAfterLeave(call, id, now); err != nil {
				return nil, err
			}
			if call.Status.IsTerminal() {
				break
			}
		}
		return change, nil
	})
}

// UpdateMember broadcasts a participant's own media state.
func (s *CallService) UpdateMember(ctx context.Context, chatID, userID uuid.UUID, state models.MemberState) error {
	if state.UserID == uuid.Nil {
		state.UserID = userID
	}
	if state.UserID != userID {
		return ErrForbidden
	}

	unlock := s.locks.Lock(chatID.String())
	defer unlock()

	call, err := s.activeFor(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !call.IsParticipant(userID) {
		return ErrForbidden
	}

	_, err = s.notifier.EmitToChatMembers(ctx, chatID, models.EventCallUpdateMember, models.CallMemberUpdate{
		ChatID: chatID,
		CallID: call.ID,
		UserID: userID,
		Action: models.MemberUpdated,
		State:  &state,
	}, EmitOptions{SenderID: userID})
	return err
}

// TrackChanged announces a relay track publication for userID.
func (s *CallService) TrackChanged(ctx context.Context, chatID, userID uuid.UUID, room models.RelayRoom, track models.RelayTrack, published bool) error {
	unlock := s.locks.Lock(chatID.String())
	defer unlock()

	call, err := s.calls.GetActiveByChat(ctx, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active call: %w", err)
	}
	if !sameRoom(call, room) {
		return nil
	}

	action := models.MemberTrackUnpublished
	if published {
		action = models.MemberTrackPublished
	}
	_, err = s.notifier.EmitToChatMembers(ctx, chatID, models.EventCallUpdateMember, models.CallMemberUpdate{
		ChatID: chatID,
		CallID: call.ID,
		UserID: userID,
		Action: action,
		Track:  &track,
	}, EmitOptions{})
	return err
}

// Signal relays a WebRTC negotiation message from a call participant to
// another member of the chat.
func (s *CallService) Signal(ctx context.Context, chatID, from, to uuid.UUID, kind string, data json.RawMessage) error {
	switch kind {
	case models.EventCallOffer, models.EventCallAnswer, models.EventCallICECandidate:
	default:
		return fmt.Errorf("unsupported signal %q", kind)
	}

	call, err := s.activeFor(ctx, chatID, from)
	if err != nil {
		return err
	}
	if !call.IsParticipant(from) {
		return ErrForbidden
	}
	if err := s.requireMember(ctx, chatID, to); err != nil {
		return err
	}

	s.notifier.EmitToUser(to, kind, models.SignalPayload{
		ChatID:     chatID,
		CallID:     call.ID,
		FromUserID: from,
		ToUserID:   to,
		Data:       data,
	})
	return nil
}

// Active returns the chat's active call as seen by member userID.
func (s *CallService) Active(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	return s.activeFor(ctx, chatID, userID)
}

// Pending returns the ringing calls userID has not answered yet. Entries
// whose call is no longer the chat's active call are dropped.
func (s *CallService) Pending(ctx context.Context, userID uuid.UUID) ([]models.PendingCall, error) {
	entries := s.pending.ListForCallee(userID)
	out := make([]models.PendingCall, 0, len(entries))
	for _, entry := range entries {
		call, err := s.calls.GetActiveByChat(ctx, entry.ChatID)
		if errors.Is(err, repositories.ErrNotFound) {
			s.pending.Remove(entry.ChatID, userID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load active call: %w", err)
		}
		if call.ID != entry.CallID {
			s.pending.Remove(entry.ChatID, userID)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Authorize checks that chatID exists and userID belongs to it.
func (s *CallService) Authorize(ctx context.Context, chatID, userID uuid.UUID) error {
	if _, err := s.members.GetChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	return s.requireMember(ctx, chatID, userID)
}

func (s *CallService) activeFor(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	call, err := s.calls.GetActiveByChat(ctx, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrCallNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active call: %w", err)
	}
	return call, nil
}

func (s *CallService) requireMember(ctx context.Context, chatID, userID uuid.UUID) error {
	ok, err := s.members.IsMember(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *CallService) newCall(chat *models.Chat, initiator uuid.UUID, isVideo bool, roomSID string, now time.Time) (*callChange, error) {
	call := &models.Call{
		ChatID:               chat.ID,
		RelayRoomSID:         roomSID,
		Status:               models.CallStatusDialing,
		InitiatorID:          initiator,
		IsVideo:              isVideo,
		IsGroup:              chat.Type != models.ChatTypeDirect,
		IsBroadcast:          chat.Type == models.ChatTypeBroadcast,
		CurrentParticipants:  []uuid.UUID{},
		AttendedParticipants: []uuid.UUID{},
		CreatedAt:            now,
	}
	call.AddParticipant(initiator)
	if call.IsBroadcast {
		if err := transition(call, models.CallStatusInProgress, now); err != nil {
			return nil, err
		}
	}

	change := &callChange{call: call, created: true, dirty: true}
	change.member(initiator, models.MemberJoined)
	return change, nil
}

func (s *CallService) admitOp(call *models.Call, userID uuid.UUID, now time.Time) (*callChange, error) {
	change := unchanged(call)
	change.resolved = []uuid.UUID{userID}

	added, err := admit(call, userID, now)
	if err != nil {
		return nil, err
	}
	if added {
		change.member(userID, models.MemberJoined)
	}
	change.dirty = added || call.Status != change.from
	return change, nil
}

// staleRoom reports whether room already hosted a call that ended.
func (s *CallService) staleRoom(ctx context.Context, chatID uuid.UUID, room models.RelayRoom) (bool, error) {
	if room.SID == "" {
		return false, nil
	}
	previous, err := s.calls.GetByRelayRoom(ctx, chatID, room.SID)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up relay room: %w", err)
	}
	return previous.Status.IsTerminal(), nil
}

func ignoreRoom(call *models.Call, room models.RelayRoom, event string) {
	log.Info().
		Str("chat_id", call.ChatID.String()).
		Str("call_id", call.ID.String()).
		Str("call_room_sid", call.RelayRoomSID).
		Str("room_sid", room.SID).
		Time("room_created", room.CreationTime).
		Str("event", event).
		Msg("Ignoring relay event from another room")
}

// release retries the teardown of the chat's latest call when it ended but
// its room was never confirmed deleted. Older calls are never considered: the
// room name they shared may host a newer call by now.
func (s *CallService) release(ctx context.Context, chatID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	unlock := s.locks.Lock(chatID.String())
	defer unlock()
	return s.releaseLocked(ctx, chatID, room)
}

func (s *CallService) releaseLocked(ctx context.Context, chatID uuid.UUID, room models.RelayRoom) (*models.Call, error) {
	latest, err := s.calls.GetLatestByChat(ctx, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest call: %w", err)
	}
	if !latest.Status.IsTerminal() || latest.RoomReleased || !sameRoom(latest, room) {
		return nil, nil
	}

	log.Warn().
		Str("chat_id", chatID.String()).
		Str("call_id", latest.ID.String()).
		Msg("Retrying teardown of ended call")
	return latest, s.finish(ctx, latest)
}

// run serializes op per chat, persists its result and publishes the events.
// A zero actor skips the membership check for relay-driven operations.
func (s *CallService) run(ctx context.Context, chatID, actor uuid.UUID, op callOp) (*models.Call, error) {
	unlock := s.locks.Lock(chatID.String())
	defer unlock()

	chat, err := s.members.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	if actor != uuid.Nil {
		if err := s.requireMember(ctx, chatID, actor); err != nil {
			return nil, err
		}
	}

	change, err := s.mutate(ctx, chat, op)
	if err != nil {
		return nil, err
	}

	for _, userID := range change.resolved {
		s.pending.Remove(chatID, userID)
	}
	if err := s.publish(ctx, change); err != nil {
		return change.call, err
	}
	return change.call, nil
}

func (s *CallService) mutate(ctx context.Context, chat *models.Chat, op callOp) (*callChange, error) {
	for attempt := 1; attempt <= maxCallWriteAttempts; attempt++ {
		current, err := s.calls.GetActiveByChat(ctx, chat.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			current = nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to load active call: %w", err)
		}

		change, err := op(ctx, chat, current, s.clock.Now().UTC())
		if err != nil {
			return nil, err
		}
		if !change.dirty {
			return change, nil
		}

		if change.created {
			err = s.calls.Create(ctx, change.call)
		} else {
			err = s.calls.Update(ctx, change.call)
		}
		if errors.Is(err, repositories.ErrActiveCallExists) || errors.Is(err, repositories.ErrVersionConflict) {
			log.Debug().Err(err).Str("chat_id", chat.ID.String()).Int("attempt", attempt).Msg("Call write conflicted, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to persist call: %w", err)
		}

		if change.created || change.call.Status != change.from {
			s.metrics.transitioned(string(change.call.Status))
			log.Info().
				Str("chat_id", chat.ID.String()).
				Str("call_id", change.call.ID.String()).
				Str("from", string(change.from)).
				Str("to", string(change.call.Status)).
				Msg("Call status changed")
		}
		return change, nil
	}
	return nil, ErrCallContention
}

// publish emits the events for a persisted change. A terminated call is
// announced before its relay room is torn down.
func (s *CallService) publish(ctx context.Context, change *callChange) error {
	call := change.call
	if call == nil {
		return nil
	}

	if change.created {
		recipients, err := s.notifier.EmitToChatMembers(ctx, call.ChatID, models.EventCallIncoming, call, EmitOptions{
			SenderID:      call.InitiatorID,
			ExcludeSender: true,
		})
		if err != nil {
			return fmt.Errorf("failed to announce incoming call: %w", err)
		}
		if !call.IsBroadcast {
			for _, callee := range recipients {
				s.pending.Add(models.PendingCall{
					ChatID:   call.ChatID,
					CalleeID: callee,
					CallID:   call.ID,
					CallerID: call.InitiatorID,
					IsVideo:  call.IsVideo,
				})
			}
		}
	}

	for _, m := range change.members {
		_, err := s.notifier.EmitToChatMembers(ctx, call.ChatID, models.EventCallUpdateMember, models.CallMemberUpdate{
			ChatID: call.ChatID,
			CallID: call.ID,
			UserID: m.userID,
			Action: m.action,
		}, EmitOptions{})
		if err != nil {
			return fmt.Errorf("failed to announce member change: %w", err)
		}
	}

	if change.ended() {
		return s.finish(ctx, call)
	}
	if change.dirty {
		if _, err := s.notifier.EmitToChatMembers(ctx, call.ChatID, models.EventCallUpdate, call, EmitOptions{}); err != nil {
			return fmt.Errorf("failed to announce call update: %w", err)
		}
	}
	return nil
}

// finish runs after a terminal status was persisted: clear invitations,
// announce the end, then tear the room down. The room is removed even if the
// announcement failed so that it cannot outlive the call. Only a fully
// successful teardown marks the room released; anything less is retried by
// release on the next relay event for the chat.
func (s *CallService) finish(ctx context.Context, call *models.Call) error {
	s.pending.RemoveChat(call.ChatID)

	var errs []error
	if _, err := s.notifier.EmitToChatMembers(ctx, call.ChatID, models.EventCallEnd, call, EmitOptions{}); err != nil {
		errs = append(errs, fmt.Errorf("failed to announce call end: %w", err))
	}
	if err := s.relay.DeleteRoom(ctx, RoomName(call.ChatID)); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete relay room: %w", err))
	}
	if len(errs) == 0 {
		call.RoomReleased = true
		if err := s.calls.Update(ctx, call); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark room released: %w", err))
		}
	}

	log.Info().
		Str("chat_id", call.ChatID.String()).
		Str("call_id", call.ID.String()).
		Str("status", string(call.Status)).
		Int("max_participants", call.MaxParticipants).
		Msg("Call ended")
	return errors.Join(errs...)
}
