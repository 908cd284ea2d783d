package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Responder genera la respuesta del personaje para un mensaje del usuario.
type Responder interface {
	Reply(ctx context.Context, session domain.Session, userMessage domain.Message) (string, error)
}

// EchoResponder repite el mensaje; alcanza para desarrollo y pruebas.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, session domain.Session, userMessage domain.Message) (string, error) {
	name := session.Name
	if name == "" {
		name = session.ParticipantID
	}
	return name + ": " + userMessage.Content, nil
}

// ChatHandler implementa la API de sesiones, historial y completions.
type ChatHandler struct {
	logger    *zap.Logger
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	responder Responder
}

func NewChatHandler(
	logger *zap.Logger,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	responder Responder,
) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if responder == nil {
		responder = EchoResponder{}
	}
	return &ChatHandler{
		logger:    logger,
		sessions:  sessions,
		messages:  messages,
		responder: responder,
	}
}

type wireSession struct {
	SessionID       string     `json:"session_id"`
	CharacterID     string     `json:"character_id"`
	CharacterName   string     `json:"character_name,omitempty"`
	CharacterAvatar string     `json:"character_avatar,omitempty"`
	BackgroundURL   string     `json:"background_url,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toWireSession(s domain.Session) wireSession {
	w := wireSession{
		SessionID:       s.ID,
		CharacterID:     s.ParticipantID,
		CharacterName:   s.Name,
		CharacterAvatar: s.AvatarURL,
		BackgroundURL:   s.BackgroundURL,
		CreatedAt:       s.CreatedAt,
	}
	if !s.LastMessageAt.IsZero() {
		at := s.LastMessageAt
		w.UpdatedAt = &at
	}
	return w
}

type wireMessage struct {
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type,omitempty"`
	IsLocked  bool      `json:"is_locked"`
	ImageURL  string    `json:"image_url,omitempty"`
	VideoURL  string    `json:"video_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toWireMessage(m domain.Message) wireMessage {
	return wireMessage{
		MessageID: m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Type:      m.Type,
		IsLocked:  !m.Unlocked,
		ImageURL:  m.ImageURL,
		VideoURL:  m.VideoURL,
		CreatedAt: m.CreatedAt,
	}
}

// ListSessions maneja GET /chat/sessions[?character_id=].
func (h *ChatHandler) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	if characterID := strings.TrimSpace(c.Query("character_id")); characterID != "" {
		s, err := h.sessions.GetByParticipantID(ctx, characterID)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"sessions": []wireSession{}})
			return
		}
		if err != nil {
			h.logger.Error("get session failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": []wireSession{toWireSession(s)}})
		return
	}

	list, err := h.sessions.List(ctx, 0)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sessions"})
		return
	}
	out := make([]wireSession, 0, len(list))
	for _, s := range list {
		out = append(out, toWireSession(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// CreateSession maneja POST /chat/sessions. Si el personaje ya tiene sesión se
// devuelve la existente.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		CharacterID   string `json:"character_id" binding:"required"`
		CharacterName string `json:"character_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()

	existing, err := h.sessions.GetByParticipantID(ctx, req.CharacterID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"session": toWireSession(existing)})
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		h.logger.Error("get session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	name := req.CharacterName
	if name == "" {
		name = req.CharacterID
	}
	session := domain.Session{
		ID:            uuid.NewString(),
		ParticipantID: req.CharacterID,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.sessions.Upsert(ctx, session); err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	h.logger.Info("session created", zap.String("session_id", session.ID), zap.String("character_id", session.ParticipantID))
	c.JSON(http.StatusCreated, gin.H{"session": toWireSession(session)})
}

// ListMessages maneja GET /chat/sessions/:id/messages?limit=N&before_id=ID.
// Devuelve hasta limit mensajes anteriores a before_id en orden ascendente.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxPageLimit)
	}

	all, err := h.messages.ListBySessionID(c.Request.Context(), sessionID, repository.ListOptions{Order: repository.OldestFirst})
	if err != nil {
		h.logger.Error("list messages failed", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}

	end := len(all)
	if beforeID := strings.TrimSpace(c.Query("before_id")); beforeID != "" {
		end = -1
		for i, m := range all {
			if m.ID == beforeID {
				end = i
				break
			}
		}
		if end < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown before_id"})
			return
		}
	}
	start := max(0, end-limit)
	window := all[start:end]

	out := make([]wireMessage, 0, len(window))
	for _, m := range window {
		out = append(out, toWireMessage(m))
	}
	var oldestID, newestID *string
	if len(window) > 0 {
		oldestID = &window[0].ID
		newestID = &window[len(window)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":  out,
		"has_more":  start > 0,
		"oldest_id": oldestID,
		"newest_id": newestID,
	})
}

// Completion maneja POST /chat/completions: guarda el mensaje del usuario,
// genera la respuesta y devuelve ambos ids.
func (h *ChatHandler) Completion(c *gin.Context) {
	var req struct {
		SessionID     string `json:"session_id" binding:"required"`
		Message       string `json:"message" binding:"required"`
		RequestType   string `json:"request_type"`
		SpicyMode     bool   `json:"spicy_mode"`
		IntimacyLevel int    `json:"intimacy_level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid completion request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()

	session, err := h.sessions.GetByID(ctx, req.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}

	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   req.Message,
		Unlocked:  true,
		Status:    domain.StatusConfirmed,
		CreatedAt: now,
	}
	if err := h.messages.Create(ctx, userMsg); err != nil {
		h.logger.Error("create message failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not post message"})
		return
	}

	content, err := h.responder.Reply(ctx, session, userMsg)
	if err != nil {
		h.logger.Error("responder failed", zap.String("session_id", session.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not generate response", "user_message_id": userMsg.ID})
		return
	}
	reply := domain.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      domain.RoleAssistant,
		Content:   content,
		Unlocked:  true,
		Status:    domain.StatusConfirmed,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := h.messages.Create(ctx, reply); err != nil {
		h.logger.Error("create reply failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store response"})
		return
	}

	session.LastMessageAt = reply.CreatedAt
	if err := h.sessions.Upsert(ctx, session); err != nil {
		h.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	requestType := req.RequestType
	if requestType == "" {
		requestType = "chat"
	}
	c.JSON(http.StatusOK, gin.H{
		"message_id":       reply.ID,
		"role":             string(reply.Role),
		"content":          reply.Content,
		"created_at":       reply.CreatedAt,
		"user_message_id":  userMsg.ID,
		"tokens_used":      len(strings.Fields(reply.Content)),
		"credits_deducted": 0,
		"extra_data": gin.H{
			"request_type":   requestType,
			"spicy_mode":     req.SpicyMode,
			"intimacy_level": req.IntimacyLevel,
		},
	})
}
