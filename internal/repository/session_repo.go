package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// SessionRepository guarda las sesiones conocidas, una por personaje.
type SessionRepository interface {
	GetByParticipantID(ctx context.Context, participantID string) (domain.Session, error)
	GetByID(ctx context.Context, id string) (domain.Session, error)
	Upsert(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]domain.Session, error)
}

type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *MemorySessionRepository) GetByParticipantID(_ context.Context, participantID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ParticipantID == participantID {
			return s, nil
		}
	}
	return domain.Session{}, ErrNotFound
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemorySessionRepository) Upsert(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// participant_id es único: una sesión nueva para el mismo personaje reemplaza a la anterior.
	for id, s := range r.sessions {
		if s.ParticipantID == session.ParticipantID && id != session.ID {
			delete(r.sessions, id)
		}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) List(_ context.Context, limit int) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
