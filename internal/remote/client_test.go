package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHTTPClient_FetchPage(t *testing.T) {
	var gotPath, gotBefore, gotLimit, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBefore = r.URL.Query().Get("before_id")
		gotLimit = r.URL.Query().Get("limit")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hasMore": true,
			"messages": [
				{"message_id": "m1", "role": "user", "content": "hola", "created_at": "2024-05-01T10:00:00Z"},
				{"messageId": "m2", "role": "assistant", "text": "buenas", "createdAt": 1714557660000, "is_locked": true, "tokens_used": 7},
				{"role": "assistant", "content": "sin id"}
			]
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, StaticToken("secret"), nil)
	page, err := client.FetchPage(context.Background(), "s1", FetchOptions{Limit: 20, BeforeID: "m9"})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if gotPath != "/chat/sessions/s1/messages" || gotBefore != "m9" || gotLimit != "20" {
		t.Fatalf("unexpected request path=%s before=%s limit=%s", gotPath, gotBefore, gotLimit)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if !page.HasMore || len(page.Messages) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.OldestID != "m1" || page.NewestID != "m2" {
		t.Fatalf("expected derived bounds m1/m2, got %s/%s", page.OldestID, page.NewestID)
	}
	m2 := page.Messages[1]
	if m2.Content != "buenas" || m2.Unlocked || m2.SessionID != "s1" {
		t.Fatalf("unexpected normalized message %+v", m2)
	}
	if !m2.CreatedAt.Equal(time.UnixMilli(1714557660000)) {
		t.Fatalf("unexpected created_at %v", m2.CreatedAt)
	}
	if m2.Extra["tokens_used"] != float64(7) {
		t.Fatalf("expected unknown key kept in extra, got %+v", m2.Extra)
	}
}

func TestHTTPClient_SendMessage(t *testing.T) {
	var got CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{
			"message_id": "a1",
			"content": "respuesta",
			"user_message_id": "u1",
			"tokens_used": 42,
			"credits_deducted": 0.5,
			"extra_data": {"model": "dev"}
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, nil)
	res, err := client.SendMessage(context.Background(), CompletionRequest{SessionID: "s1", Message: "hola"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.RequestType != "chat" || got.Message != "hola" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if res.Message.ID != "a1" || res.UserMessageID != "u1" || res.TokensUsed != 42 || res.CreditsDeducted != 0.5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Message.Role != "assistant" || res.Message.CreatedAt.IsZero() {
		t.Fatalf("expected assistant defaults, got %+v", res.Message)
	}
	if res.ExtraData["model"] != "dev" {
		t.Fatalf("expected extra_data passthrough, got %+v", res.ExtraData)
	}
}

func TestHTTPClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, nil)
	_, err := client.FetchPage(context.Background(), "s1", FetchOptions{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected StatusError 401, got %v", err)
	}
}

func TestHTTPClient_NotConfigured(t *testing.T) {
	client := NewHTTPClient("", nil, nil)
	if _, err := client.FetchPage(context.Background(), "s1", FetchOptions{}); !errors.Is(err, ErrRemoteNotConfigured) {
		t.Fatalf("expected ErrRemoteNotConfigured, got %v", err)
	}
}

func TestHTTPClient_ExpiredTokenSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	client := NewHTTPClient(srv.URL, StaticToken(token), nil)
	if _, err := client.FetchPage(context.Background(), "s1", FetchOptions{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if called {
		t.Fatalf("expected no request with an expired token")
	}
}

func TestHTTPClient_Sessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("character_id") != "char-1" {
				t.Errorf("missing character_id filter")
			}
			_, _ = w.Write([]byte(`[{"session_id": "s1", "character_id": "char-1", "character_name": "Luna"}]`))
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"session": {"id": "s2", "characterName": "Sol"}}`))
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, nil)
	s, ok, err := client.GetSessionByParticipant(context.Background(), "char-1")
	if err != nil || !ok || s.ID != "s1" || s.Name != "Luna" {
		t.Fatalf("unexpected lookup result %+v ok=%v err=%v", s, ok, err)
	}

	created, err := client.CreateSession(context.Background(), "char-2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "s2" || created.ParticipantID != "char-2" || created.Name != "Sol" {
		t.Fatalf("unexpected created session %+v", created)
	}
}

func TestHTTPClient_RequestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken": "tok-1"}`))
	}))
	defer srv.Close()

	token, err := NewHTTPClient(srv.URL, nil, nil).RequestToken(context.Background(), "u1")
	if err != nil || token != "tok-1" {
		t.Fatalf("unexpected token %q err=%v", token, err)
	}
}
