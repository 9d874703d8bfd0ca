package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prudhvinik1/edgecall/internal/models"
)

const uniqueViolation = "23505"

const callColumns = `id, chat_id, status, initiator_id, is_video, is_group, is_broadcast,
	started_at, ended_at, max_participants, current_participants, attended_participants,
	relay_room_sid, room_released, version, created_at, updated_at`

type PostgresCallRepository struct {
	db DBTX
}

func NewPostgresCallRepository(db DBTX) *PostgresCallRepository {
	return &PostgresCallRepository{db: db}
}

// Create inserts a new call with version 1. The partial unique index on
// chat_id rejects a second non-terminal call for the same chat.
func (r *PostgresCallRepository) Create(ctx context.Context, call *models.Call) error {
	query := `INSERT INTO calls (chat_id, status, initiator_id, is_video, is_group, is_broadcast,
	              started_at, ended_at, max_participants, current_participants, attended_participants,
	              relay_room_sid, version)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
	          RETURNING id, version, created_at`

	err := r.db.QueryRow(ctx, query,
		call.ChatID,
		string(call.Status),
		call.InitiatorID,
		call.IsVideo,
		call.IsGroup,
		call.IsBroadcast,
		call.StartedAt,
		call.EndedAt,
		call.MaxParticipants,
		uuidStrings(call.CurrentParticipants),
		uuidStrings(call.AttendedParticipants),
		call.RelayRoomSID,
	).Scan(&call.ID, &call.Version, &call.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveCallExists
	}
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresCallRepository) GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*models.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls
	          WHERE chat_id = $1 AND status IN ('DIALING', 'IN_PROGRESS')`
	return r.getOne(ctx, query, chatID)
}

func (r *PostgresCallRepository) GetLatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls
	          WHERE chat_id = $1
	          ORDER BY created_at DESC
	          LIMIT 1`
	return r.getOne(ctx, query, chatID)
}

func (r *PostgresCallRepository) GetByRelayRoom(ctx context.Context, chatID uuid.UUID, roomSID string) (*models.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls
	          WHERE chat_id = $1 AND relay_room_sid = $2
	          ORDER BY created_at DESC
	          LIMIT 1`
	return r.getOne(ctx, query, chatID, roomSID)
}

// Update writes the call only if its version still matches what the caller
// read. On success call.Version is advanced.
func (r *PostgresCallRepository) Update(ctx context.Context, call *models.Call) error {
	query := `UPDATE calls
	          SET status = $1,
	              started_at = $2,
	              ended_at = $3,
	              max_participants = $4,
	              current_participants = $5,
	              attended_participants = $6,
	              relay_room_sid = $7,
	              room_released = $8,
	              version = version + 1,
	              updated_at = NOW()
	          WHERE id = $9 AND version = $10
	          RETURNING version, updated_at`

	var (
		newVersion int64
		updatedAt  time.Time
	)
	err := r.db.QueryRow(ctx, query,
		string(call.Status),
		call.StartedAt,
		call.EndedAt,
		call.MaxParticipants,
		uuidStrings(call.CurrentParticipants),
		uuidStrings(call.AttendedParticipants),
		call.RelayRoomSID,
		call.RoomReleased,
		call.ID,
		call.Version, // Expected version - must match!
	).Scan(&newVersion, &updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	call.Version = newVersion
	call.UpdatedAt = &updatedAt
	return nil
}

func (r *PostgresCallRepository) getOne(ctx context.Context, query string, args ...any) (*models.Call, error) {
	var (
		call     models.Call
		status   string
		current  []string
		attended []string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&call.ID,
		&call.ChatID,
		&status,
		&call.InitiatorID,
		&call.IsVideo,
		&call.IsGroup,
		&call.IsBroadcast,
		&call.StartedAt,
		&call.EndedAt,
		&call.MaxParticipants,
		&current,
		&attended,
		&call.RelayRoomSID,
		&call.RoomReleased,
		&call.Version,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	call.Status = models.CallStatus(status)
	if call.CurrentParticipants, err = parseUUIDs(current); err != nil {
		return nil, fmt.Errorf("failed to parse current participants: %w", err)
	}
	if call.AttendedParticipants, err = parseUUIDs(attended); err != nil {
		return nil, fmt.Errorf("failed to parse attended participants: %w", err)
	}
	return &call, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
