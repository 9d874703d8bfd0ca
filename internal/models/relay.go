package models

import "time"

// Relay webhook event names.
const (
	RelayRoomStarted                  = "room_started"
	RelayParticipantJoined            = "participant_joined"
	RelayParticipantLeft              = "participant_left"
	RelayParticipantConnectionAborted = "participant_connection_aborted"
	RelayTrackPublished               = "track_published"
	RelayTrackUnpublished             = "track_unpublished"
	RelayRoomFinished                 = "room_finished"
)

// RelayEvent is a media relay callback. Room.Name carries the chat id and
// Participant.Identity the user id.
type RelayEvent struct {
	ID          string            `json:"id"`
	Event       string            `json:"event"`
	Room        RelayRoom         `json:"room"`
	Participant *RelayParticipant `json:"participant,omitempty"`
	Track       *RelayTrack       `json:"track,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type RelayRoom struct {
	SID             string    `json:"sid,omitempty"`
	Name            string    `json:"name"`
	NumParticipants int       `json:"num_participants"`
	CreationTime    time.Time `json:"creation_time"`
}

type RelayParticipant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

type RelayTrack struct {
	SID    string `json:"sid"`
	Type   string `json:"type"`
	Source string `json:"source"`
}
