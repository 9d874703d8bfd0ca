package models

import (
	"time"

	"github.com/google/uuid"
)

type ChatType string

const (
	ChatTypeDirect    ChatType = "direct"
	ChatTypeGroup     ChatType = "group"
	ChatTypeBroadcast ChatType = "broadcast"
)

type Chat struct {
	ID   uuid.UUID `json:"id"`
	Type ChatType  `json:"type"`
}

type ChatMember struct {
	ChatID     uuid.UUID  `json:"chat_id"`
	UserID     uuid.UUID  `json:"user_id"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
}

// IsMuted reports whether the member's mute is still in effect at now.
func (m ChatMember) IsMuted(now time.Time) bool {
	return m.MutedUntil != nil && m.MutedUntil.After(now)
}
