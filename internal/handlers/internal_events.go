package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/services"
)

// Events the chat CRUD layer may fan out through this service.
var internalChatEvents = map[string]bool{
	models.EventChatNewMessage:  true,
	models.EventChatMessageRead: true,
	models.EventChatPinUpdated:  true,
}

type chatEventRequest struct {
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID uuid.UUID       `json:"senderId,omitempty"`
}

type chatEventResponse struct {
	Recipients int `json:"recipients"`
}

func (h *Handler) EmitChatEvent(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, r, errors.Join(errBadRequest, err))
		return
	}

	var req chatEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !internalChatEvents[req.Event] {
		writeError(w, r, errors.Join(errBadRequest, fmt.Errorf("unsupported event %q", req.Event)))
		return
	}

	recipients, err := h.notifier.EmitToChatMembers(r.Context(), chatID, req.Event, req.Payload, services.EmitOptions{
		SenderID: req.SenderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, chatEventResponse{Recipients: len(recipients)})
}
