package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingCall is an incoming-call notification the callee has not answered yet.
type PendingCall struct {
	ChatID    uuid.UUID `json:"chat_id"`
	CalleeID  uuid.UUID `json:"callee_id"`
	CallID    uuid.UUID `json:"call_id"`
	CallerID  uuid.UUID `json:"caller_id"`
	IsVideo   bool      `json:"is_video"`
	CreatedAt time.Time `json:"created_at"`
}
