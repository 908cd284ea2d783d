package remote

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("access token expired")

// TokenSource entrega el bearer token para cada request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken es un token fijo. Si tiene forma de JWT se revisa su exp sin
// verificar la firma (la firma la valida el servidor) para no gastar un
// round-trip en un 401 seguro.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", nil
	}
	if exp, ok := TokenExpiry(token); ok && time.Now().After(exp) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// TokenExpiry lee el claim exp de un JWT. ok es false si el token no es un
// JWT o no trae exp.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
