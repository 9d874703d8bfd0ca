package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

type CallStatus string

const (
	CallStatusDialing    CallStatus = "DIALING"
	CallStatusInProgress CallStatus = "IN_PROGRESS"
	CallStatusCompleted  CallStatus = "COMPLETED"
	CallStatusMissed     CallStatus = "MISSED"
	CallStatusFailed     CallStatus = "FAILED"
	CallStatusDeclined   CallStatus = "DECLINED"
)

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusFailed, CallStatusDeclined:
		return true
	}
	return false
}

type Call struct {
	ID                   uuid.UUID   `json:"id"`
	ChatID               uuid.UUID   `json:"chat_id"`
	Status               CallStatus  `json:"status"`
	InitiatorID          uuid.UUID   `json:"initiator_id"`
	IsVideo              bool        `json:"is_video"`
	IsGroup              bool        `json:"is_group"`
	IsBroadcast          bool        `json:"is_broadcast"`
	StartedAt            *time.Time  `json:"started_at,omitempty"`
	EndedAt              *time.Time  `json:"ended_at,omitempty"`
	MaxParticipants      int         `json:"max_participants"`
	CurrentParticipants  []uuid.UUID `json:"current_participants"`
	AttendedParticipants []uuid.UUID `json:"attended_participants"`
	RelayRoomSID         string      `json:"-"` // relay room instance; names repeat per chat
	RoomReleased         bool        `json:"-"` // ended and the room was torn down
	Version              int64       `json:"-"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            *time.Time  `json:"updated_at,omitempty"`
}

// IsParticipant reports whether userID is currently in the call.
func (c *Call) IsParticipant(userID uuid.UUID) bool {
	return slices.Contains(c.CurrentParticipants, userID)
}

func (c *Call) HasAttended(userID uuid.UUID) bool {
	return slices.Contains(c.AttendedParticipants, userID)
}

// AddParticipant admits userID. It returns false when the user was already
// a current participant. Admission also records attendance and raises
// MaxParticipants, which never decreases.
func (c *Call) AddParticipant(userID uuid.UUID) bool {
	if c.IsParticipant(userID) {
		return false
	}
	c.CurrentParticipants = append(c.CurrentParticipants, userID)
	if !c.HasAttended(userID) {
		c.AttendedParticipants = append(c.AttendedParticipants, userID)
	}
	c.MaxParticipants = max(c.MaxParticipants, len(c.CurrentParticipants))
	return true
}

// RemoveParticipant returns false when userID was not a current participant.
func (c *Call) RemoveParticipant(userID uuid.UUID) bool {
	i := slices.Index(c.CurrentParticipants, userID)
	if i < 0 {
		return false
	}
	c.CurrentParticipants = slices.Delete(c.CurrentParticipants, i, i+1)
	return true
}

// Clone returns a deep copy safe to mutate independently.
func (c *Call) Clone() *Call {
	cp := *c
	cp.CurrentParticipants = slices.Clone(c.CurrentParticipants)
	cp.AttendedParticipants = slices.Clone(c.AttendedParticipants)
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		cp.UpdatedAt = &t
	}
	return &cp
}

// MemberState is the media state a participant publishes about itself.
type MemberState struct {
	UserID          uuid.UUID `json:"userId"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoOff      bool      `json:"isVideoOff"`
	IsScreenSharing bool      `json:"isScreenSharing"`
}

const (
	MemberJoined           = "joined"
	MemberLeft             = "left"
	MemberRejected         = "rejected"
	MemberUpdated          = "updated"
	MemberTrackPublished   = "track-published"
	MemberTrackUnpublished = "track-unpublished"
)

// CallMemberUpdate is the call:update-member payload.
type CallMemberUpdate struct {
	ChatID uuid.UUID    `json:"chatId"`
	CallID uuid.UUID    `json:"callId"`
	UserID uuid.UUID    `json:"userId"`
	Action string       `json:"action"`
	State  *MemberState `json:"state,omitempty"`
	Track  *RelayTrack  `json:"track,omitempty"`
}

// SignalPayload carries a WebRTC negotiation message between two members.
type SignalPayload struct {
	ChatID     uuid.UUID       `json:"chatId"`
	CallID     uuid.UUID       `json:"callId"`
	FromUserID uuid.UUID       `json:"fromUserId"`
	ToUserID   uuid.UUID       `json:"toUserId"`
	Data       json.RawMessage `json:"data"`
}
