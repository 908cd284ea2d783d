package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/remote"
	"github.com/gitjhb/luna-sub003/internal/repository"
)

type failingLookup struct{}

func (failingLookup) Get(context.Context, string) (domain.Session, bool, error) {
	return domain.Session{}, false, errors.New("redis down")
}
func (failingLookup) Set(context.Context, domain.Session) error { return errors.New("redis down") }
func (failingLookup) Delete(context.Context, string) error      { return errors.New("redis down") }

func TestSessionDirectory_LocalHitSkipsRemote(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	_ = repo.Upsert(context.Background(), domain.Session{ID: "s1", ParticipantID: "char-1"})
	ch := remote.NewMockChannel()
	ch.Sessions["char-1"] = domain.Session{ID: "remote-s", ParticipantID: "char-1"}
	lookup := NewMemorySessionCache(time.Minute)
	dir := NewSessionDirectory(repo, ch, lookup, nil, nil)

	s, ok, err := dir.GetByParticipant(context.Background(), "char-1")
	if err != nil || !ok || s.ID != "s1" {
		t.Fatalf("expected local session, got %+v ok=%v err=%v", s, ok, err)
	}
	if cached, ok, _ := lookup.Get(context.Background(), "char-1"); !ok || cached.ID != "s1" {
		t.Fatalf("expected lookup cache filled, got %+v", cached)
	}
}

func TestSessionDirectory_RemoteHitIsPersisted(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	ch := remote.NewMockChannel()
	ch.Sessions["char-1"] = domain.Session{ID: "s9", ParticipantID: "char-1", Name: "Luna"}
	dir := NewSessionDirectory(repo, ch, nil, nil, nil)

	s, ok, err := dir.GetByParticipant(context.Background(), "char-1")
	if err != nil || !ok || s.ID != "s9" {
		t.Fatalf("expected remote session, got %+v ok=%v err=%v", s, ok, err)
	}
	if local, err := repo.GetByParticipantID(context.Background(), "char-1"); err != nil || local.ID != "s9" {
		t.Fatalf("expected session upserted locally, got %+v err=%v", local, err)
	}
}

func TestSessionDirectory_ResolveCreatesOnFirstContact(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	ch := remote.NewMockChannel()
	ch.Created = domain.Session{ID: "new-s"}
	dir := NewSessionDirectory(repo, ch, failingLookup{}, nil, nil)

	s, err := dir.Resolve(context.Background(), "char-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.ID != "new-s" || s.ParticipantID != "char-2" || s.CreatedAt.IsZero() {
		t.Fatalf("unexpected created session %+v", s)
	}

	again, err := dir.Resolve(context.Background(), "char-2")
	if err != nil || again.ID != "new-s" {
		t.Fatalf("expected same session on second resolve, got %+v err=%v", again, err)
	}
}

func TestSessionDirectory_ResolveWithoutRemote(t *testing.T) {
	dir := NewSessionDirectory(repository.NewMemorySessionRepository(), nil, nil, nil, nil)
	if _, err := dir.Resolve(context.Background(), "char-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, _, err := dir.GetByParticipant(context.Background(), " "); !errors.Is(err, ErrSessionInvalidInput) {
		t.Fatalf("expected ErrSessionInvalidInput, got %v", err)
	}
}

func TestSessionDirectory_TouchNeverMovesBackwards(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	dir := NewSessionDirectory(repo, nil, nil, nil, nil)
	s := domain.Session{ID: "s1", ParticipantID: "char-1", LastMessageAt: baseTime}

	s, err := dir.Touch(context.Background(), s, baseTime.Add(time.Minute))
	if err != nil || !s.LastMessageAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("expected bump, got %v err=%v", s.LastMessageAt, err)
	}
	s, _ = dir.Touch(context.Background(), s, baseTime)
	if !s.LastMessageAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("expected last_message_at kept, got %v", s.LastMessageAt)
	}
}

func TestSessionDirectory_DeleteClearsConversation(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySessionRepository()
	store := repository.NewMemoryMessageRepository()
	cache := NewMessageCache(store, remote.NewMockChannel(), CacheOptions{}, nil, nil)
	lookup := NewMemorySessionCache(time.Minute)
	dir := NewSessionDirectory(repo, nil, lookup, cache, nil)

	s := domain.Session{ID: "s1", ParticipantID: "char-1"}
	if err := dir.Upsert(ctx, s); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, _ = cache.AppendOptimistic(ctx, "s1", domain.Message{Content: "hola"})

	if err := dir.Delete(ctx, s); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := dir.GetByParticipant(ctx, "char-1"); ok {
		t.Fatalf("expected session gone")
	}
	if len(cache.Messages("s1")) != 0 || store.Count() != 0 {
		t.Fatalf("expected conversation messages cleared")
	}
}

func TestSessionDirectory_List(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	dir := NewSessionDirectory(repo, nil, nil, nil, nil)
	_ = dir.Upsert(context.Background(), domain.Session{ID: "a", ParticipantID: "c1", LastMessageAt: baseTime})
	_ = dir.Upsert(context.Background(), domain.Session{ID: "b", ParticipantID: "c2", LastMessageAt: baseTime.Add(time.Hour)})

	list, err := dir.List(context.Background(), 10)
	if err != nil || len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
}
