package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prudhvinik1/edgecall/internal/models"
)

type PostgresMembershipRepository struct {
	db DBTX
}

func NewPostgresMembershipRepository(db DBTX) *PostgresMembershipRepository {
	return &PostgresMembershipRepository{db: db}
}

func (r *PostgresMembershipRepository) GetChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	query := `SELECT id, type FROM chats WHERE id = $1 AND deleted_at IS NULL`

	var (
		chat     models.Chat
		chatType string
	)
	err := r.db.QueryRow(ctx, query, chatID).Scan(&chat.ID, &chatType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.Type = models.ChatType(chatType)
	return &chat, nil
}

// ListMembers returns the chat's members with their mute state. A chat that
// does not exist yields ErrNotFound rather than an empty list.
func (r *PostgresMembershipRepository) ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	if _, err := r.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	query := `SELECT chat_id, user_id, muted_until
	          FROM chat_members
	          WHERE chat_id = $1
	          ORDER BY joined_at ASC`

	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat members: %w", err)
	}
	defer rows.Close()

	var members []models.ChatMember
	for rows.Next() {
		var m models.ChatMember
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.MutedUntil); err != nil {
			return nil, fmt.Errorf("failed to scan chat member: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat members: %w", err)
	}
	return members, nil
}

func (r *PostgresMembershipRepository) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, chatID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}
