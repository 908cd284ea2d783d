package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitjhb/luna-sub003/internal/config"
	"github.com/gitjhb/luna-sub003/internal/domain"
	apihttp "github.com/gitjhb/luna-sub003/internal/http"
	"github.com/gitjhb/luna-sub003/internal/repository"
	"github.com/gitjhb/luna-sub003/internal/service"
)

func newDevServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := service.NewJWTService("secret", time.Hour)
	router := apihttp.NewRouter(nil, jwtSvc, apihttp.NewAuthHandler(nil, jwtSvc), apihttp.NewChatHandler(nil,
		repository.NewMemorySessionRepository(), repository.NewMemoryMessageRepository(), nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	tok, err := jwtSvc.IssueAccessToken("u1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return srv, tok.AccessToken
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		APIBaseURL:       baseURL,
		LocalStoreDriver: config.LocalStoreMemory,
		CachePageSize:    2,
		CacheDedupWindow: 30 * time.Second,
		SessionCacheTTL:  time.Minute,
	}
}

func TestRunChat_SendAndHistory(t *testing.T) {
	srv, token := newDevServer(t)
	a, err := newApp(context.Background(), testConfig(srv.URL), Profile{Token: token}, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	var out bytes.Buffer
	in := strings.NewReader("hola\n/older\nsalir\n")
	if err := runChat(context.Background(), a, "luna", in, &out); err != nil {
		t.Fatalf("run chat: %v", err)
	}

	got := out.String()
	for _, want := range []string{"(sin mensajes)", "Luna: ", "No hay más historial"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, got)
		}
	}

	sessions, err := a.directory.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ParticipantID != "luna" {
		t.Fatalf("expected one session for luna, got %+v", sessions)
	}
	msgs := a.cache.Messages(sessions[0].ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user message and reply cached, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.IsLocal() {
			t.Fatalf("expected confirmed ids, got %s", m.ID)
		}
	}
}

func TestRunChat_UnauthorizedResolve(t *testing.T) {
	srv, _ := newDevServer(t)
	a, err := newApp(context.Background(), testConfig(srv.URL), Profile{Token: "garbage"}, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	err = runChat(context.Background(), a, "luna", strings.NewReader("salir\n"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestFormatMessage(t *testing.T) {
	cases := []struct {
		msg  domain.Message
		want string
	}{
		{msg: domain.Message{Role: domain.RoleUser, Content: "hola", Unlocked: true, Status: domain.StatusPending}, want: "Tú: hola (enviando)"},
		{msg: domain.Message{Role: domain.RoleUser, Content: "hola", Unlocked: true, Status: domain.StatusFailed}, want: "Tú: hola (fallido)"},
		{msg: domain.Message{Role: domain.RoleAssistant, Content: "qué tal", Unlocked: true}, want: "Luna: qué tal"},
		{msg: domain.Message{Role: domain.RoleAssistant}, want: "Luna: (bloqueado)"},
	}
	for _, tc := range cases {
		if got := formatMessage(tc.msg); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}
