package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/remote"
	"github.com/gitjhb/luna-sub003/internal/repository"
)

var (
	ErrSessionDirectoryNotConfigured = errors.New("session directory not configured")
	ErrSessionInvalidInput           = errors.New("session invalid input")
	ErrSessionNotFound               = errors.New("session not found")
)

// SessionDirectory resuelve participant -> sesión activa. Orden de lectura:
// caché de lookup, store local, servidor.
type SessionDirectory struct {
	repo   repository.SessionRepository
	remote remote.SessionChannel
	lookup SessionLookupCache
	cache  *MessageCache
	logger *zap.Logger
}

// NewSessionDirectory acepta lookup y cache nil. Sin remote sólo se consulta
// el store local.
func NewSessionDirectory(repo repository.SessionRepository, ch remote.SessionChannel, lookup SessionLookupCache, cache *MessageCache, logger *zap.Logger) *SessionDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionDirectory{repo: repo, remote: ch, lookup: lookup, cache: cache, logger: logger}
}

func (d *SessionDirectory) GetByParticipant(ctx context.Context, participantID string) (domain.Session, bool, error) {
	if d == nil || d.repo == nil {
		return domain.Session{}, false, ErrSessionDirectoryNotConfigured
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return domain.Session{}, false, ErrSessionInvalidInput
	}

	if d.lookup != nil {
		s, ok, err := d.lookup.Get(ctx, participantID)
		if err != nil {
			d.logger.Warn("session lookup cache read failed", zap.String("participant_id", participantID), zap.Error(err))
		} else if ok {
			return s, true, nil
		}
	}

	s, err := d.repo.GetByParticipantID(ctx, participantID)
	if err == nil {
		d.cacheLookup(ctx, s)
		return s, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		d.logger.Warn("local session read failed", zap.String("participant_id", participantID), zap.Error(err))
	}

	if d.remote == nil {
		return domain.Session{}, false, nil
	}
	s, ok, err := d.remote.GetSessionByParticipant(ctx, participantID)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("remote session lookup: %w", err)
	}
	if !ok {
		return domain.Session{}, false, nil
	}
	if err := d.Upsert(ctx, s); err != nil {
		d.logger.Warn("local session write dropped", zap.String("session_id", s.ID), zap.Error(err))
	}
	return s, true, nil
}

// Resolve devuelve la sesión del participante y la crea en el servidor en el
// primer contacto.
func (d *SessionDirectory) Resolve(ctx context.Context, participantID string) (domain.Session, error) {
	s, ok, err := d.GetByParticipant(ctx, participantID)
	if err != nil {
		return domain.Session{}, err
	}
	if ok {
		return s, nil
	}
	if d.remote == nil {
		return domain.Session{}, ErrSessionNotFound
	}
	s, err = d.remote.CreateSession(ctx, strings.TrimSpace(participantID))
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	if s.ID == "" {
		return domain.Session{}, fmt.Errorf("create session: empty session id")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := d.Upsert(ctx, s); err != nil {
		return domain.Session{}, err
	}
	d.logger.Info("session created", zap.String("session_id", s.ID), zap.String("participant_id", s.ParticipantID))
	return s, nil
}

func (d *SessionDirectory) Upsert(ctx context.Context, session domain.Session) error {
	if d == nil || d.repo == nil {
		return ErrSessionDirectoryNotConfigured
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.ParticipantID) == "" {
		return ErrSessionInvalidInput
	}
	if err := d.repo.Upsert(ctx, session); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	d.cacheLookup(ctx, session)
	return nil
}

// Touch adelanta LastMessageAt; nunca lo retrocede.
func (d *SessionDirectory) Touch(ctx context.Context, session domain.Session, at time.Time) (domain.Session, error) {
	if at.After(session.LastMessageAt) {
		session.LastMessageAt = at
	}
	if err := d.Upsert(ctx, session); err != nil {
		return session, err
	}
	return session, nil
}

// Delete borra la sesión y todo lo cacheado de su conversación.
func (d *SessionDirectory) Delete(ctx context.Context, session domain.Session) error {
	if d == nil || d.repo == nil {
		return ErrSessionDirectoryNotConfigured
	}
	if strings.TrimSpace(session.ID) == "" {
		return ErrSessionInvalidInput
	}
	if err := d.repo.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if d.lookup != nil {
		if err := d.lookup.Delete(ctx, session.ParticipantID); err != nil {
			d.logger.Warn("session lookup cache delete failed", zap.String("participant_id", session.ParticipantID), zap.Error(err))
		}
	}
	if d.cache != nil {
		if err := d.cache.Clear(ctx, session.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *SessionDirectory) List(ctx context.Context, limit int) ([]domain.Session, error) {
	if d == nil || d.repo == nil {
		return nil, ErrSessionDirectoryNotConfigured
	}
	return d.repo.List(ctx, limit)
}

func (d *SessionDirectory) cacheLookup(ctx context.Context, s domain.Session) {
	if d.lookup == nil {
		return
	}
	if err := d.lookup.Set(ctx, s); err != nil {
		d.logger.Warn("session lookup cache write failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}
