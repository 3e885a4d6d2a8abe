// Package adminauth guards the administrative routes (key management,
// principal CRUD, request-log and stats reads) with bearer JWT verification,
// grounded on internal/auth/middleware.go's header-parse-then-context-stash
// shape but checking a signature instead of looking up a stored API key
// (spec §6 "bearer JWT for administrative routes" — issuance is an external
// collaborator; this package only verifies).
package adminauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsContextKey contextKey = "adminauth_claims"

// Claims is the minimal set of fields the gateway reads off an
// administrative bearer JWT. Additional claims issued by the external
// collaborator are ignored.
type Claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
}

// Middleware verifies administrative bearer JWTs against a fixed public key.
// It never issues tokens.
type Middleware struct {
	publicKey *rsa.PublicKey
	log       *slog.Logger
}

// New parses a PEM-encoded RSA public key (ADMIN_JWT_PUBLIC_KEY) and returns
// a Middleware that verifies tokens against it.
func New(pemPublicKey string, log *slog.Logger) (*Middleware, error) {
	key, err := parseRSAPublicKey(pemPublicKey)
	if err != nil {
		return nil, fmt.Errorf("adminauth: parse public key: %w", err)
	}
	return &Middleware{publicKey: key, log: log}, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaKey, nil
}

// Authenticate verifies the Authorization: Bearer <jwt> header and rejects
// the request with 401 on any missing, malformed, or invalid signature /
// expired-token condition. On success the parsed Claims are attached to the
// request context for downstream handlers.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			m.reject(w, "missing or malformed authorization header")
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
			}
			return m.publicKey, nil
		})
		if err != nil || !parsed.Valid {
			m.log.Warn("adminauth: token rejected", "error", err)
			m.reject(w, "invalid or expired administrative token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("authorization header is not a bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

func (m *Middleware) reject(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error_kind":"auth_rejected","message":"` + message + `"}`))
}

// ClaimsFromContext retrieves the verified Claims stashed by Authenticate,
// or nil if the request never passed through it.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
