package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// MessageChannel es la parte del backend que consume la caché de mensajes.
type MessageChannel interface {
	FetchPage(ctx context.Context, sessionID string, opts FetchOptions) (PageResult, error)
	SendMessage(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// SessionChannel resuelve y crea sesiones en el backend.
type SessionChannel interface {
	GetSessionByParticipant(ctx context.Context, participantID string) (domain.Session, bool, error)
	CreateSession(ctx context.Context, participantID string) (domain.Session, error)
}

// FetchOptions: BeforeID vacío pide la página más reciente.
type FetchOptions struct {
	Limit    int
	BeforeID string
}

// PageResult trae los mensajes en orden ascendente dentro de la página.
type PageResult struct {
	Messages []domain.Message
	HasMore  bool
	OldestID string
	NewestID string
}

type CompletionRequest struct {
	SessionID     string `json:"session_id"`
	Message       string `json:"message"`
	RequestType   string `json:"request_type"`
	SpicyMode     bool   `json:"spicy_mode"`
	IntimacyLevel int    `json:"intimacy_level"`
}

// CompletionResult es la respuesta del asistente. Los campos de economía y
// debug se copian tal cual; la caché sólo usa el sobre del mensaje.
type CompletionResult struct {
	Message         domain.Message
	UserMessageID   string
	TokensUsed      int
	CreditsDeducted float64
	ExtraData       map[string]any
}

// StatusError describe una respuesta HTTP no exitosa del backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote http error: status=%d", e.StatusCode)
}

var ErrRemoteNotConfigured = errors.New("remote channel not configured")

// HTTPClient implementa MessageChannel y SessionChannel sobre la API REST.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient construye un cliente apuntando a la API de chat.
func NewHTTPClient(baseURL string, tokens TokenSource, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *HTTPClient) FetchPage(ctx context.Context, sessionID string, opts FetchOptions) (PageResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return PageResult{}, fmt.Errorf("fetch page: empty session id")
	}
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.BeforeID != "" {
		query.Set("before_id", opts.BeforeID)
	}

	var body map[string]any
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &body); err != nil {
		return PageResult{}, err
	}
	return normalizePage(body, sessionID), nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return CompletionResult{}, fmt.Errorf("send message: empty session id")
	}
	if req.RequestType == "" {
		req.RequestType = "chat"
	}
	var body map[string]any
	if err := c.do(ctx, http.MethodPost, "/chat/completions", nil, req, &body); err != nil {
		return CompletionResult{}, err
	}
	return normalizeCompletion(body, req.SessionID), nil
}

func (c *HTTPClient) GetSessionByParticipant(ctx context.Context, participantID string) (domain.Session, bool, error) {
	query := url.Values{}
	query.Set("character_id", participantID)

	var body any
	if err := c.do(ctx, http.MethodGet, "/chat/sessions", query, nil, &body); err != nil {
		return domain.Session{}, false, err
	}
	for _, s := range normalizeSessionList(body) {
		if s.ParticipantID == participantID {
			return s, true, nil
		}
	}
	return domain.Session{}, false, nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, participantID string) (domain.Session, error) {
	reqBody := map[string]string{"character_id": participantID}
	var body map[string]any
	if err := c.do(ctx, http.MethodPost, "/chat/sessions", nil, reqBody, &body); err != nil {
		return domain.Session{}, err
	}
	if inner, ok := body["session"].(map[string]any); ok {
		body = inner
	}
	s := normalizeSession(body)
	if s.ParticipantID == "" {
		s.ParticipantID = participantID
	}
	return s, nil
}

// RequestToken pide un access token al backend de desarrollo.
func (c *HTTPClient) RequestToken(ctx context.Context, userID string) (string, error) {
	var body map[string]any
	if err := c.do(ctx, http.MethodPost, "/auth/token", nil, map[string]string{"user_id": userID}, &body); err != nil {
		return "", err
	}
	token := stringField(body, "access_token", "accessToken", "token")
	if token == "" {
		return "", fmt.Errorf("request token: empty token in response")
	}
	return token, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in any, out any) error {
	if c == nil || c.baseURL == "" {
		return ErrRemoteNotConfigured
	}
	var reader io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("remote request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		c.logger.Warn("remote error status", zap.Int("status", resp.StatusCode), zap.String("path", path), zap.ByteString("body", respBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
