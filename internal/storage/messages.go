package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/divvychat/divvychat/pkg/models"
)

// MessageStore handles conversation transcript persistence
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new message store
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append inserts one conversation turn. Messages are append-only; there is
// no update path.
func (s *MessageStore) Append(ctx context.Context, msg models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, text, tier, units_in, units_out, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Text,
		msg.Tier.String(),
		msg.UnitsIn,
		msg.UnitsOut,
		msg.Cost,
		msg.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

// GetRecent returns the last limit messages of a conversation, oldest first.
func (s *MessageStore) GetRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, role, text, tier, units_in, units_out, cost, created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role, tier string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.Text,
			&tier,
			&msg.UnitsIn,
			&msg.UnitsOut,
			&msg.Cost,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if t, err := models.ParseTier(tier); err == nil {
			msg.Tier = t
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// CountTurns returns the total number of messages in a conversation.
func (s *MessageStore) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
