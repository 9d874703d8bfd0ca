package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prudhvinik1/edgecall/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when optimistic locking fails
	ErrVersionConflict = errors.New("version conflict: call was modified concurrently")
	// ErrActiveCallExists is returned when a chat already has a non-terminal call
	ErrActiveCallExists = errors.New("chat already has an active call")
)

// DBTX is the subset of pgxpool.Pool the Postgres repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Call, error)
	GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*models.Call, error)
	GetLatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Call, error)
	// GetByRelayRoom returns the most recent call of chatID hosted by the
	// relay room roomSID.
	GetByRelayRoom(ctx context.Context, chatID uuid.UUID, roomSID string) (*models.Call, error)
	Update(ctx context.Context, call *models.Call) error
}

// MembershipRepository reads chats and their members. The tables belong to
// the chat application; this core never writes them.
type MembershipRepository interface {
	GetChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)
	ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error)
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

type BlockRepository interface {
	// BlockedUserIDs returns every user that blocked userID or was blocked by it.
	BlockedUserIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type PresenceRepository interface {
	SetLastSeen(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error
	GetBulkLastSeen(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
}
