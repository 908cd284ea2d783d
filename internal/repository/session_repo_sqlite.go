package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

const sqliteSessionColumns = `id, participant_id, name, avatar_url, background_url, last_message_at, created_at`

func (r *SQLiteSessionRepository) GetByParticipantID(ctx context.Context, participantID string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM chat_sessions WHERE participant_id = ?`, participantID)
	return scanSQLiteSession(row)
}

func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	return scanSQLiteSession(row)
}

func (r *SQLiteSessionRepository) Upsert(ctx context.Context, session domain.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// participant_id es único: se descarta cualquier sesión previa del mismo personaje.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE participant_id = ? AND id <> ?`, session.ParticipantID, session.ID); err != nil {
		return err
	}
	const query = `
		INSERT INTO chat_sessions (id, participant_id, name, avatar_url, background_url, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			participant_id = excluded.participant_id,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			background_url = excluded.background_url,
			last_message_at = excluded.last_message_at
	`
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, query,
		session.ID,
		session.ParticipantID,
		session.Name,
		session.AvatarURL,
		session.BackgroundURL,
		unixMilliOrZero(session.LastMessageAt),
		createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	return err
}

func (r *SQLiteSessionRepository) List(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sqliteSessionColumns + ` FROM chat_sessions ORDER BY last_message_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (domain.Session, error) {
	var (
		s             domain.Session
		lastMessageAt int64
		createdAt     int64
	)
	err := row.Scan(&s.ID, &s.ParticipantID, &s.Name, &s.AvatarURL, &s.BackgroundURL, &lastMessageAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	if lastMessageAt > 0 {
		s.LastMessageAt = time.UnixMilli(lastMessageAt).UTC()
	}
	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	return s, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}
