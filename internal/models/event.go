package models

import "encoding/json"

// Transport event names, grouped by namespace.
const (
	EventConnectionAck = "system:connection-ack"
	EventPing          = "system:ping"
	EventPong          = "system:pong"
	EventError         = "system:error"

	EventPresenceSubscribe   = "presence:subscribe"
	EventPresenceUnsubscribe = "presence:unsubscribe"
	EventPresenceInit        = "presence:init"
	EventPresenceUpdate      = "presence:update"

	EventChatTyping      = "chat:typing"
	EventChatNewMessage  = "chat:new-message"
	EventChatMessageRead = "chat:message-read"
	EventChatPinUpdated  = "chat:pin-updated"

	EventCallInitiate     = "call:initiate"
	EventCallIncoming     = "call:incoming"
	EventCallUpdate       = "call:update"
	EventCallUpdateMember = "call:update-member"
	EventCallAccept       = "call:accept"
	EventCallJoin         = "call:join"
	EventCallReject       = "call:reject"
	EventCallHangUp       = "call:hang-up"
	EventCallEnd          = "call:end"
	EventCallOffer        = "call:offer"
	EventCallAnswer       = "call:answer"
	EventCallICECandidate = "call:ice-candidate"
)

// Event is one frame pushed to a client connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// InboundEvent is one frame received from a client connection.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type EventMeta struct {
	IsMuted  bool `json:"isMuted"`
	IsSender bool `json:"isSender"`
}

// ChatEnvelope wraps a chat or call payload with per-recipient metadata.
type ChatEnvelope struct {
	Payload any       `json:"payload"`
	Meta    EventMeta `json:"meta"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
