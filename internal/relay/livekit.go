package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/twitchtv/twirp"
)

// roomService is the part of the LiveKit room API the adapter uses.
type roomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
}

// LiveKit adapts a LiveKit server to the call core. It opens and tears down
// rooms, lists participants, mints join tokens and verifies webhook callbacks.
type LiveKit struct {
	url       string
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration
	rooms     roomService
	keys      auth.KeyProvider
}

// MediaToken lets a client join the relay room of one chat.
type MediaToken struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Room      string    `json:"room"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewLiveKit(url, apiKey, apiSecret string, tokenTTL time.Duration) *LiveKit {
	return &LiveKit{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		tokenTTL:  tokenTTL,
		rooms:     lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		keys:      auth.NewSimpleKeyProvider(apiKey, apiSecret),
	}
}

// CreateRoom opens room and returns its sid. An existing room with the same
// name is returned as is.
func (l *LiveKit) CreateRoom(ctx context.Context, room string) (string, error) {
	res, err := l.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{Name: room})
	if err != nil {
		return "", fmt.Errorf("failed to create room %s: %w", room, err)
	}
	log.Debug().Str("room", room).Str("sid", res.GetSid()).Msg("Relay room ready")
	return res.GetSid(), nil
}

// DeleteRoom removes room and disconnects everyone in it. A room that is
// already gone counts as deleted.
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	_, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	if isNotFound(err) {
		log.Debug().Str("room", room).Msg("Relay room already gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", room, err)
	}
	log.Info().Str("room", room).Msg("Relay room deleted")
	return nil
}

// ListParticipants returns the identities currently connected to room.
func (l *LiveKit) ListParticipants(ctx context.Context, room string) ([]string, error) {
	res, err := l.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if isNotFound(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list participants of %s: %w", room, err)
	}

	identities := make([]string, 0, len(res.GetParticipants()))
	for _, p := range res.GetParticipants() {
		identities = append(identities, p.GetIdentity())
	}
	return identities, nil
}

// IssueToken signs a token that lets identity join room. metadata is
// attached to the participant and visible to everyone in the room.
func (l *LiveKit) IssueToken(room, identity, name, metadata string) (*MediaToken, error) {
	token, err := auth.NewAccessToken(l.apiKey, l.apiSecret).
		SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room}).
		SetIdentity(identity).
		SetName(name).
		SetMetadata(metadata).
		SetValidFor(l.tokenTTL).
		ToJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to sign media token: %w", err)
	}
	return &MediaToken{
		Token:     token,
		URL:       l.url,
		Room:      room,
		ExpiresAt: time.Now().Add(l.tokenTTL).UTC(),
	}, nil
}

// ReceiveWebhook verifies the signature of a relay callback and decodes it.
func (l *LiveKit) ReceiveWebhook(r *http.Request) (models.RelayEvent, error) {
	evt, err := webhook.ReceiveWebhookEvent(r, l.keys)
	if err != nil {
		return models.RelayEvent{}, fmt.Errorf("failed to verify webhook: %w", err)
	}
	return toRelayEvent(evt), nil
}

func toRelayEvent(evt *livekit.WebhookEvent) models.RelayEvent {
	out := models.RelayEvent{
		ID:        evt.GetId(),
		Event:     evt.GetEvent(),
		CreatedAt: time.Unix(evt.GetCreatedAt(), 0).UTC(),
	}
	if room := evt.GetRoom(); room != nil {
		out.Room = models.RelayRoom{
			SID:             room.GetSid(),
			Name:            room.GetName(),
			NumParticipants: int(room.GetNumParticipants()),
		}
		if room.GetCreationTime() > 0 {
			out.Room.CreationTime = time.Unix(room.GetCreationTime(), 0).UTC()
		}
	}
	if p := evt.GetParticipant(); p != nil {
		out.Participant = &models.RelayParticipant{
			Identity: p.GetIdentity(),
			Name:     p.GetName(),
		}
	}
	if t := evt.GetTrack(); t != nil {
		out.Track = &models.RelayTrack{
			SID:    t.GetSid(),
			Type:   t.GetType().String(),
			Source: t.GetSource().String(),
		}
	}
	return out
}

func isNotFound(err error) bool {
	var terr twirp.Error
	return errors.As(err, &terr) && terr.Code() == twirp.NotFound
}
