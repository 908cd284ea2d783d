package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/remote"
)

var (
	ErrChatServiceNotConfigured = errors.New("chat service not configured")
	ErrChatInvalidInput         = errors.New("chat invalid input")
)

type SendOptions struct {
	RequestType   string
	SpicyMode     bool
	IntimacyLevel int
}

// SendResult expone el mensaje del usuario ya confirmado (o pendiente si el
// servidor no devolvió su id), la respuesta y los campos de economía sin tocar.
type SendResult struct {
	UserMessage     domain.Message
	Reply           domain.Message
	Session         domain.Session
	TokensUsed      int
	CreditsDeducted float64
	ExtraData       map[string]any
}

// ChatService envía mensajes: append optimista, POST y confirmación.
type ChatService struct {
	cache     *MessageCache
	remote    remote.MessageChannel
	directory *SessionDirectory
	logger    *zap.Logger
}

func NewChatService(cache *MessageCache, ch remote.MessageChannel, directory *SessionDirectory, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{cache: cache, remote: ch, directory: directory, logger: logger}
}

func (s *ChatService) Send(ctx context.Context, session domain.Session, content string, opts SendOptions) (SendResult, error) {
	if s == nil || s.cache == nil || s.remote == nil {
		return SendResult{}, ErrChatServiceNotConfigured
	}
	content = strings.TrimSpace(content)
	if session.ID == "" || content == "" {
		return SendResult{}, ErrChatInvalidInput
	}

	pending, err := s.cache.AppendOptimistic(ctx, session.ID, domain.Message{Role: domain.RoleUser, Content: content})
	if err != nil {
		return SendResult{}, err
	}

	res, err := s.remote.SendMessage(ctx, remote.CompletionRequest{
		SessionID:     session.ID,
		Message:       content,
		RequestType:   opts.RequestType,
		SpicyMode:     opts.SpicyMode,
		IntimacyLevel: opts.IntimacyLevel,
	})
	if err != nil {
		if markErr := s.cache.MarkFailed(ctx, session.ID, pending.ID); markErr != nil {
			s.logger.Warn("mark failed", zap.String("session_id", session.ID), zap.Error(markErr))
		}
		return SendResult{UserMessage: pending, Session: session}, fmt.Errorf("send message: %w", err)
	}

	result := SendResult{
		UserMessage:     pending,
		Session:         session,
		TokensUsed:      res.TokensUsed,
		CreditsDeducted: res.CreditsDeducted,
		ExtraData:       res.ExtraData,
	}
	if res.UserMessageID != "" {
		confirmed, err := s.cache.ConfirmOptimistic(ctx, session.ID, pending.ID, res.UserMessageID, pending.CreatedAt)
		if err != nil {
			s.logger.Warn("confirm optimistic failed", zap.String("session_id", session.ID), zap.Error(err))
		} else {
			result.UserMessage = confirmed
		}
	}

	reply := res.Message
	if reply.ID != "" {
		if err := s.cache.AppendConfirmed(ctx, session.ID, reply); err != nil {
			s.logger.Warn("append reply failed", zap.String("session_id", session.ID), zap.Error(err))
		}
		reply.SessionID = session.ID
		reply.Status = domain.StatusConfirmed
	}
	result.Reply = reply

	if s.directory != nil {
		touched, err := s.directory.Touch(ctx, session, reply.CreatedAt)
		if err != nil {
			s.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
		} else {
			result.Session = touched
		}
	}
	return result, nil
}
