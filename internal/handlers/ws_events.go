package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/services"
)

type presenceRequest struct {
	UserIDs []uuid.UUID `json:"userIds"`
}

type typingRequest struct {
	ChatID   uuid.UUID `json:"chatId"`
	IsTyping bool      `json:"isTyping"`
}

type typingPayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

type callRequest struct {
	ChatID  uuid.UUID `json:"chatId"`
	IsVideo bool      `json:"isVideo,omitempty"`
}

type memberStateRequest struct {
	ChatID          uuid.UUID `json:"chatId"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoOff      bool      `json:"isVideoOff"`
	IsScreenSharing bool      `json:"isScreenSharing"`
}

type signalRequest struct {
	ChatID   uuid.UUID       `json:"chatId"`
	ToUserID uuid.UUID       `json:"toUserId"`
	Data     json.RawMessage `json:"data"`
}

type pongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

func (h *Handler) dispatch(ctx context.Context, c *wsConn, evt models.InboundEvent) error {
	switch evt.Name {
	case models.EventPing:
		return c.Send(models.Event{Name: models.EventPong, Data: pongPayload{ServerTime: h.clock.Now().UTC()}})
	case models.EventPresenceSubscribe:
		return h.handlePresenceSubscribe(ctx, c, evt.Data)
	case models.EventPresenceUnsubscribe:
		return h.handlePresenceUnsubscribe(c, evt.Data)
	case models.EventChatTyping:
		return h.handleTyping(ctx, c, evt.Data)
	case models.EventCallInitiate:
		return h.handleInitiate(ctx, c, evt.Data)
	case models.EventCallAccept:
		return h.handleCallAction(ctx, c, evt.Data, h.calls.Accept)
	case models.EventCallJoin:
		return h.handleCallAction(ctx, c, evt.Data, h.calls.Join)
	case models.EventCallReject:
		return h.handleCallAction(ctx, c, evt.Data, h.calls.Reject)
	case models.EventCallHangUp:
		return h.handleCallAction(ctx, c, evt.Data, h.calls.HangUp)
	case models.EventCallEnd:
		return h.handleCallAction(ctx, c, evt.Data, h.calls.End)
	case models.EventCallUpdateMember:
		return h.handleMemberUpdate(ctx, c, evt.Data)
	case models.EventCallOffer, models.EventCallAnswer, models.EventCallICECandidate:
		return h.handleSignal(ctx, c, evt.Name, evt.Data)
	default:
		return errors.Join(errBadRequest, fmt.Errorf("unknown event %q", evt.Name))
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.Join(errBadRequest, errors.New("missing data"))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func requireChat(chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return errors.Join(errBadRequest, errors.New("chatId is required"))
	}
	return nil
}

func (h *Handler) handlePresenceSubscribe(ctx context.Context, c *wsConn, data json.RawMessage) error {
	var req presenceRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	for _, target := range req.UserIDs {
		if err := h.presence.Subscribe(c.id, target); err != nil {
			return err
		}
	}
	snapshot := h.presence.Snapshot(ctx, c.id, req.UserIDs)
	return c.Send(models.Event{Name: models.EventPresenceInit, Data: snapshot})
}

func (h *Handler) handlePresenceUnsubscribe(c *wsConn, data json.RawMessage) error {
	var req presenceRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	for _, target := range req.UserIDs {
		h.presence.Unsubscribe(c.id, target)
	}
	return nil
}

func (h *Handler) handleTyping(ctx context.Context, c *wsConn, data json.RawMessage) error {
	var req typingRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := requireChat(req.ChatID); err != nil {
		return err
	}
	_, err := h.notifier.EmitToChatMembers(ctx, req.ChatID, models.EventChatTyping, typingPayload{
		ChatID:   req.ChatID,
		UserID:   c.userID,
		IsTyping: req.IsTyping,
	}, services.EmitOptions{SenderID: c.userID, ExcludeSender: true})
	return err
}

func (h *Handler) handleInitiate(ctx context.Context, c *wsConn, data json.RawMessage) error {
	var req callRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := requireChat(req.ChatID); err != nil {
		return err
	}
	_, err := h.calls.Initiate(ctx, req.ChatID, c.userID, req.IsVideo)
	return err
}

type callAction func(ctx context.Context, chatID, userID uuid.UUID) (*models.Call, error)

func (h *Handler) handleCallAction(ctx context.Context, c *wsConn, data json.RawMessage, action callAction) error {
	var req callRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := requireChat(req.ChatID); err != nil {
		return err
	}
	_, err := action(ctx, req.ChatID, c.userID)
	return err
}

func (h *Handler) handleMemberUpdate(ctx context.Context, c *wsConn, data json.RawMessage) error {
	var req memberStateRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := requireChat(req.ChatID); err != nil {
		return err
	}
	return h.calls.UpdateMember(ctx, req.ChatID, c.userID, models.MemberState{
		UserID:          c.userID,
		IsMuted:         req.IsMuted,
		IsVideoOff:      req.IsVideoOff,
		IsScreenSharing: req.IsScreenSharing,
	})
}

func (h *Handler) handleSignal(ctx context.Context, c *wsConn, kind string, data json.RawMessage) error {
	var req signalRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := requireChat(req.ChatID); err != nil {
		return err
	}
	if req.ToUserID == uuid.Nil {
		return errors.Join(errBadRequest, errors.New("toUserId is required"))
	}
	return h.calls.Signal(ctx, req.ChatID, c.userID, req.ToUserID, kind, req.Data)
}
