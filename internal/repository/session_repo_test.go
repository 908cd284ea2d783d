package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gitjhb/luna-sub003/internal/db"
	"github.com/gitjhb/luna-sub003/internal/domain"
)

func sessionRepos(t *testing.T) map[string]SessionRepository {
	conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return map[string]SessionRepository{
		"memory": NewMemorySessionRepository(),
		"sqlite": NewSQLiteSessionRepository(conn),
	}
}

func TestSessionRepository_UpsertAndLookup(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := domain.Session{ID: "s1", ParticipantID: "char-1", Name: "Luna", CreatedAt: created}
			if err := repo.Upsert(ctx, s); err != nil {
				t.Fatalf("upsert: %v", err)
			}

			got, err := repo.GetByParticipantID(ctx, "char-1")
			if err != nil {
				t.Fatalf("get by participant: %v", err)
			}
			if got.ID != "s1" || got.Name != "Luna" {
				t.Fatalf("unexpected session %+v", got)
			}

			s.LastMessageAt = created.Add(time.Hour)
			s.Name = "Luna Renamed"
			if err := repo.Upsert(ctx, s); err != nil {
				t.Fatalf("second upsert: %v", err)
			}
			got, err = repo.GetByID(ctx, "s1")
			if err != nil {
				t.Fatalf("get by id: %v", err)
			}
			if got.Name != "Luna Renamed" || !got.LastMessageAt.Equal(created.Add(time.Hour)) {
				t.Fatalf("expected update applied, got %+v", got)
			}
		})
	}
}

func TestSessionRepository_NewSessionReplacesParticipant(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Upsert(ctx, domain.Session{ID: "old", ParticipantID: "char-1"})
			_ = repo.Upsert(ctx, domain.Session{ID: "new", ParticipantID: "char-1"})

			got, err := repo.GetByParticipantID(ctx, "char-1")
			if err != nil || got.ID != "new" {
				t.Fatalf("expected new session, got %+v err=%v", got, err)
			}
			if _, err := repo.GetByID(ctx, "old"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected old session removed, got %v", err)
			}
		})
	}
}

func TestSessionRepository_ListAndDelete(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Upsert(ctx, domain.Session{ID: "s1", ParticipantID: "c1", LastMessageAt: base})
			_ = repo.Upsert(ctx, domain.Session{ID: "s2", ParticipantID: "c2", LastMessageAt: base.Add(2 * time.Hour)})
			_ = repo.Upsert(ctx, domain.Session{ID: "s3", ParticipantID: "c3", LastMessageAt: base.Add(time.Hour)})

			list, err := repo.List(ctx, 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 3 || list[0].ID != "s2" || list[1].ID != "s3" || list[2].ID != "s1" {
				t.Fatalf("unexpected order: %+v", list)
			}

			if err := repo.Delete(ctx, "s2"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := repo.GetByParticipantID(ctx, "c2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			list, _ = repo.List(ctx, 1)
			if len(list) != 1 || list[0].ID != "s3" {
				t.Fatalf("expected limited list with s3, got %+v", list)
			}
		})
	}
}
