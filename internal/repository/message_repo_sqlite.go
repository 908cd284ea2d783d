package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

type SQLiteMessageRepository struct {
	db *sql.DB
}

func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

func (r *SQLiteMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT OR IGNORE INTO messages (id, session_id, role, content, created_at, is_unlocked, extra_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	extra, err := encodeExtra(message)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query,
		message.ID,
		message.SessionID,
		string(message.Role),
		message.Content,
		message.CreatedAt.UTC().UnixMilli(),
		message.Unlocked,
		string(extra),
	)
	return err
}

func (r *SQLiteMessageRepository) ListBySessionID(ctx context.Context, sessionID string, opts ListOptions) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at, is_unlocked, extra_data
		FROM messages
		WHERE session_id = ?
	`
	if opts.Order == NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	args := []any{sessionID}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg       domain.Message
			role      string
			createdAt int64
			extra     string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAt, &msg.Unlocked, &extra); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		decodeExtra([]byte(extra), &msg)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *SQLiteMessageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (r *SQLiteMessageRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}
