package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// MessageRepository handles database operations for unified messages
type MessageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sqlx.DB, logger *zap.Logger) *MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: logger,
	}
}

// messageRow mirrors the messages table; creator, metadata and the
// per-recipient state map are stored as JSONB.
type messageRow struct {
	ID           string         `db:"id"`
	Title        string         `db:"title"`
	Content      string         `db:"content"`
	Type         string         `db:"type"`
	Priority     string         `db:"priority"`
	Creator      []byte         `db:"creator"`
	HideCreator  bool           `db:"hide_creator"`
	IsActive     bool           `db:"is_active"`
	TargetUserID sql.NullString `db:"target_user_id"`
	Metadata     []byte         `db:"metadata"`
	Recipients   []byte         `db:"recipients"`
	CreatedAt    time.Time      `db:"created_at"`
	ExpiresAt    *time.Time     `db:"expires_at"`
}

func toRow(m *model.Message) (*messageRow, error) {
	recipients, err := json.Marshal(m.Recipients)
	if err != nil {
		return nil, err
	}

	row := &messageRow{
		ID:          m.ID,
		Title:       m.Title,
		Content:     m.Content,
		Type:        string(m.Type),
		Priority:    string(m.Priority),
		HideCreator: m.HideCreator,
		IsActive:    m.IsActive,
		Recipients:  recipients,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
	if m.TargetUserID != "" {
		row.TargetUserID = sql.NullString{String: m.TargetUserID, Valid: true}
	}
	if m.Creator != nil {
		if row.Creator, err = json.Marshal(m.Creator); err != nil {
			return nil, err
		}
	}
	if m.Metadata != nil {
		if row.Metadata, err = json.Marshal(m.Metadata); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (r *messageRow) toModel() (*model.Message, error) {
	m := &model.Message{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		Type:         model.MessageType(r.Type),
		Priority:     model.Priority(r.Priority),
		HideCreator:  r.HideCreator,
		IsActive:     r.IsActive,
		TargetUserID: r.TargetUserID.String,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		Recipients:   make(map[string]*model.RecipientState),
	}
	if len(r.Recipients) > 0 {
		if err := json.Unmarshal(r.Recipients, &m.Recipients); err != nil {
			return nil, err
		}
	}
	if len(r.Creator) > 0 {
		m.Creator = &model.Creator{}
		if err := json.Unmarshal(r.Creator, m.Creator); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Save inserts a message, or replaces its mutable columns when the id
// already exists.
func (r *MessageRepository) Save(ctx context.Context, m *model.Message) error {
	row, err := toRow(m)
	if err != nil {
		r.logger.Error("Failed to encode message", zap.String("id", m.ID), zap.Error(err))
		return &model.StorageError{Op: "save", Err: err}
	}

	query := `
		INSERT INTO messages (
			id, title, content, type, priority, creator, hide_creator,
			is_active, target_user_id, metadata, recipients, created_at, expires_at
		) VALUES (
			:id, :title, :content, :type, :priority, :creator, :hide_creator,
			:is_active, :target_user_id, :metadata, :recipients, :created_at, :expires_at
		)
		ON CONFLICT (id) DO UPDATE SET
			recipients = EXCLUDED.recipients,
			is_active = EXCLUDED.is_active,
			metadata = EXCLUDED.metadata`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("Failed to save message", zap.String("id", m.ID), zap.Error(err))
		return &model.StorageError{Op: "save", Err: err}
	}

	return nil
}

// FindByID retrieves an active message by id. Returns model.ErrNotFound when
// the id is unknown or the message has been retired.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT * FROM messages WHERE id = $1 AND is_active = true`

	var row messageRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		r.logger.Error("Failed to get message", zap.String("id", id), zap.Error(err))
		return nil, &model.StorageError{Op: "find_by_id", Err: err}
	}

	return row.toModel()
}

// FindActive retrieves every active message, oldest first. Used by the
// retention cleanup scan.
func (r *MessageRepository) FindActive(ctx context.Context) ([]*model.Message, error) {
	query := `SELECT * FROM messages WHERE is_active = true ORDER BY created_at`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.Error("Failed to list active messages", zap.Error(err))
		return nil, &model.StorageError{Op: "find_active", Err: err}
	}

	messages := make([]*model.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			r.logger.Error("Failed to decode message", zap.String("id", rows[i].ID), zap.Error(err))
			return nil, &model.StorageError{Op: "find_active", Err: err}
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// FindActiveForRecipient retrieves active messages that carry a state entry
// for the recipient, newest first.
func (r *MessageRepository) FindActiveForRecipient(ctx context.Context, recipientID string) ([]*model.Message, error) {
	query := `
		SELECT * FROM messages
		WHERE is_active = true AND recipients ? $1
		ORDER BY created_at DESC`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, recipientID); err != nil {
		r.logger.Error("Failed to list messages for recipient",
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return nil, &model.StorageError{Op: "find_for_recipient", Err: err}
	}

	messages := make([]*model.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			r.logger.Error("Failed to decode message", zap.String("id", rows[i].ID), zap.Error(err))
			return nil, &model.StorageError{Op: "find_for_recipient", Err: err}
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// UpdateRecipientState overwrites one recipient's state entry inside the
// message's JSONB map. Flags are monotonic, so concurrent last-write-wins on
// the entry is acceptable.
func (r *MessageRepository) UpdateRecipientState(ctx context.Context, messageID, recipientID string, state *model.RecipientState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return &model.StorageError{Op: "update_recipient_state", Err: err}
	}

	query := `
		UPDATE messages
		SET recipients = jsonb_set(recipients, ARRAY[$2], $3::jsonb)
		WHERE id = $1 AND is_active = true`

	result, err := r.db.ExecContext(ctx, query, messageID, recipientID, encoded)
	if err != nil {
		r.logger.Error("Failed to update recipient state",
			zap.String("message_id", messageID),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return &model.StorageError{Op: "update_recipient_state", Err: err}
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return model.ErrNotFound
	}

	return nil
}

// Delete removes a message row outright. Used by delivery rollback.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		r.logger.Error("Failed to delete message", zap.String("id", id), zap.Error(err))
		return &model.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteMany removes a batch of messages in one statement and returns how
// many rows were deleted.
func (r *MessageRepository) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return 0, &model.StorageError{Op: "delete_many", Err: err}
	}
	query = r.db.Rebind(query)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to batch delete messages", zap.Int("count", len(ids)), zap.Error(err))
		return 0, &model.StorageError{Op: "delete_many", Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, &model.StorageError{Op: "delete_many", Err: err}
	}

	return int(affected), nil
}

// DeactivateExpired retires messages whose expires_at has passed. Retired
// messages drop out of every query and are removed later by retention
// cleanup.
func (r *MessageRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE messages
		SET is_active = false
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at <= $1`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		r.logger.Error("Failed to deactivate expired messages", zap.Error(err))
		return 0, &model.StorageError{Op: "deactivate_expired", Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, &model.StorageError{Op: "deactivate_expired", Err: err}
	}

	return int(affected), nil
}
