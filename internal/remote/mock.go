package remote

import (
	"context"
	"sync"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// MockChannel permite tests sin backend real. Pages se indexa por BeforeID
// ("" es la primera página). Si Block no es nil, FetchPage espera a que se
// cierre antes de responder.
type MockChannel struct {
	mu sync.Mutex

	Pages    map[string]PageResult
	FetchErr error
	Block    chan struct{}

	Completion CompletionResult
	SendErr    error

	Sessions  map[string]domain.Session
	Created   domain.Session
	CreateErr error

	FetchCalls []FetchOptions
	SendCalls  []CompletionRequest
	fetched    chan FetchOptions
}

func NewMockChannel() *MockChannel {
	return &MockChannel{
		Pages:    make(map[string]PageResult),
		Sessions: make(map[string]domain.Session),
		fetched:  make(chan FetchOptions, 64),
	}
}

func (m *MockChannel) FetchPage(ctx context.Context, _ string, opts FetchOptions) (PageResult, error) {
	m.mu.Lock()
	block := m.Block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return PageResult{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls = append(m.FetchCalls, opts)
	select {
	case m.fetched <- opts:
	default:
	}
	if m.FetchErr != nil {
		return PageResult{}, m.FetchErr
	}
	page := m.Pages[opts.BeforeID]
	page.Messages = append([]domain.Message(nil), page.Messages...)
	return page, nil
}

// Fetched notifica cada FetchPage completado.
func (m *MockChannel) Fetched() <-chan FetchOptions {
	return m.fetched
}

func (m *MockChannel) SendMessage(_ context.Context, req CompletionRequest) (CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendCalls = append(m.SendCalls, req)
	if m.SendErr != nil {
		return CompletionResult{}, m.SendErr
	}
	return m.Completion, nil
}

func (m *MockChannel) GetSessionByParticipant(_ context.Context, participantID string) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[participantID]
	return s, ok, nil
}

func (m *MockChannel) CreateSession(_ context.Context, participantID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return domain.Session{}, m.CreateErr
	}
	s := m.Created
	if s.ParticipantID == "" {
		s.ParticipantID = participantID
	}
	m.Sessions[participantID] = s
	return s, nil
}

// FetchCount devuelve cuántos FetchPage se completaron.
func (m *MockChannel) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FetchCalls)
}
