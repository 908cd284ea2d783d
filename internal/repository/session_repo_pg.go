package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

const pgSessionColumns = `id, participant_id, name, avatar_url, background_url, last_message_at, created_at`

func (r *PgSessionRepository) GetByParticipantID(ctx context.Context, participantID string) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM chat_sessions WHERE participant_id = $1`, participantID)
	return scanPgSession(row)
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	return scanPgSession(row)
}

func (r *PgSessionRepository) Upsert(ctx context.Context, session domain.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_sessions WHERE participant_id = $1 AND id <> $2`, session.ParticipantID, session.ID); err != nil {
		return err
	}

	const query = `
		INSERT INTO chat_sessions (id, participant_id, name, avatar_url, background_url, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			participant_id = EXCLUDED.participant_id,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			background_url = EXCLUDED.background_url,
			last_message_at = EXCLUDED.last_message_at
	`
	var lastMessageAt *time.Time
	if !session.LastMessageAt.IsZero() {
		t := session.LastMessageAt.UTC()
		lastMessageAt = &t
	}
	createdAt := session.CreatedAt.UTC()
	if session.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, query,
		session.ID,
		session.ParticipantID,
		session.Name,
		session.AvatarURL,
		session.BackgroundURL,
		lastMessageAt,
		createdAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PgSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	return err
}

func (r *PgSessionRepository) List(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + pgSessionColumns + ` FROM chat_sessions ORDER BY last_message_at DESC NULLS LAST`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		s, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanPgSession(row pgx.Row) (domain.Session, error) {
	var (
		s             domain.Session
		lastMessageAt *time.Time
	)
	err := row.Scan(&s.ID, &s.ParticipantID, &s.Name, &s.AvatarURL, &s.BackgroundURL, &lastMessageAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	if lastMessageAt != nil {
		s.LastMessageAt = lastMessageAt.UTC()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
