package models

import (
	"time"

	"github.com/google/uuid"
)

type Presence struct {
	UserID   uuid.UUID `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceUpdate is pushed to watchers when a user goes online or offline.
type PresenceUpdate struct {
	UserID   uuid.UUID  `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceSnapshot answers a subscribe request with the current state of the
// requested users.
type PresenceSnapshot struct {
	Statuses        map[uuid.UUID]bool      `json:"statuses"`
	LastSeen        map[uuid.UUID]time.Time `json:"lastSeen,omitempty"`
	SubscribedCount int                     `json:"subscribedCount"`
	ServerTime      time.Time               `json:"serverTime"`
}
