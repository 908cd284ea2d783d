package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(exp)}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestStaticToken(t *testing.T) {
	if tok, err := StaticToken("").Token(); tok != "" || err != nil {
		t.Fatalf("empty token should mean no auth, got %q %v", tok, err)
	}
	if tok, err := StaticToken("opaque-token").Token(); tok != "opaque-token" || err != nil {
		t.Fatalf("opaque token should pass through, got %q %v", tok, err)
	}

	valid := signed(t, time.Now().Add(time.Hour))
	if tok, err := StaticToken(valid).Token(); tok != valid || err != nil {
		t.Fatalf("valid jwt rejected: %v", err)
	}

	expired := signed(t, time.Now().Add(-time.Hour))
	if _, err := StaticToken(expired).Token(); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiry(signed(t, exp))
	if !ok || !got.Equal(exp) {
		t.Fatalf("expected %v, got %v ok=%v", exp, got, ok)
	}
	if _, ok := TokenExpiry("not-a-jwt"); ok {
		t.Fatalf("expected ok=false for opaque token")
	}
}
