package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, session_id, role, content, created_at, is_unlocked, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	extra, err := encodeExtra(message)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		message.ID,
		message.SessionID,
		string(message.Role),
		message.Content,
		message.CreatedAt.UTC(),
		message.Unlocked,
		string(extra),
	)
	return err
}

func (r *PgMessageRepository) ListBySessionID(ctx context.Context, sessionID string, opts ListOptions) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at, is_unlocked, extra_data
		FROM messages
		WHERE session_id = $1
	`
	if opts.Order == NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	args := []any{sessionID}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg   domain.Message
			role  string
			extra []byte
		)
		err = rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&role,
			&msg.Content,
			&msg.CreatedAt,
			&msg.Unlocked,
			&extra,
		)
		if err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = msg.CreatedAt.UTC()
		decodeExtra(extra, &msg)
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (r *PgMessageRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	return err
}
