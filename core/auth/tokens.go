// Package auth verifies API bearer tokens against bcrypt hashes from the config.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"scholarmis-apps/config"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

var ErrInvalidToken = errors.New("invalid token")

// Principal is the caller behind a verified token.
type Principal struct {
	Name  string
	Roles []string
}

type TokenAuthenticator struct {
	tokens []config.TokenConfig
}

func NewTokenAuthenticator(tokens []config.TokenConfig) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

// Authenticate compares the token against every configured hash.
func (a *TokenAuthenticator) Authenticate(token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if a == nil || token == "" {
		return nil, ErrInvalidToken
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)) == nil {
			role := strings.TrimSpace(t.Role)
			if role == "" {
				role = "viewer"
			}
			return &Principal{Name: t.Name, Roles: []string{role}}, nil
		}
	}
	return nil, ErrInvalidToken
}

func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}

// Username is the principal name or "anonymous", used in audit entries.
func Username(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p.Name != "" {
		return p.Name
	}
	return "anonymous"
}
