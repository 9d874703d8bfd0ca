package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/services"
	"github.com/rs/zerolog/log"
)

type mediaTokenRequest struct {
	ChatID          uuid.UUID `json:"chatId"`
	ParticipantName string    `json:"participantName,omitempty"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
}

type activeCallResponse struct {
	Call              *models.Call `json:"call"`
	RelayParticipants []string     `json:"relayParticipants"`
}

type pendingCallsResponse struct {
	Pending []models.PendingCall `json:"pending"`
}

// IssueMediaToken hands a chat member a credential for the chat's relay room.
func (h *Handler) IssueMediaToken(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())

	var req mediaTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ChatID == uuid.Nil {
		writeError(w, r, errors.Join(errBadRequest, errors.New("chatId is required")))
		return
	}
	if err := h.calls.Authorize(r.Context(), req.ChatID, userID); err != nil {
		writeError(w, r, err)
		return
	}

	metadata := ""
	if req.AvatarURL != "" {
		raw, err := json.Marshal(map[string]string{"avatarUrl": req.AvatarURL})
		if err != nil {
			writeError(w, r, err)
			return
		}
		metadata = string(raw)
	}

	token, err := h.media.IssueToken(services.RoomName(req.ChatID), userID.String(), req.ParticipantName, metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) PendingCalls(w http.ResponseWriter, r *http.Request) {
	pending, err := h.calls.Pending(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingCallsResponse{Pending: pending})
}

// ActiveCall returns the chat's active call together with who the relay
// currently sees in the room.
func (h *Handler) ActiveCall(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, r, errors.Join(errBadRequest, err))
		return
	}

	call, err := h.calls.Active(r.Context(), chatID, userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	participants, err := h.media.ListParticipants(r.Context(), services.RoomName(chatID))
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID.String()).Msg("Relay room state unavailable")
		participants = []string{}
	}
	writeJSON(w, http.StatusOK, activeCallResponse{Call: call, RelayParticipants: participants})
}

// ReceiveWebhook accepts signed relay callbacks. A non-2xx answer makes the
// relay redeliver, so only failures worth retrying return 500.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	evt, err := h.media.ReceiveWebhook(r)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected relay webhook")
		writeJSON(w, http.StatusUnauthorized, errorPayload("", services.ErrInvalidToken))
		return
	}

	if err := h.webhooks.Handle(r.Context(), evt); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
