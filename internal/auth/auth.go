package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeExportRead  = "export:ro"
	ScopeExportWrite = "export:rw"
	ScopeAll         = "*"
)

// TokenConfig is a bearer token bound to a caller identity and a set of scopes.
type TokenConfig struct {
	Token  string
	Caller string
	Scopes []string
}

// Principal is the resolved identity of an authenticated request.
type Principal struct {
	Caller string
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticator resolves a presented bearer token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, presented string) (Principal, bool)
}

// StaticTokens authenticates against tokens from configuration.
type StaticTokens []TokenConfig

// Authenticate matches a presented bearer token against configured tokens.
// Every configured token is compared so timing does not reveal which one matched.
func (s StaticTokens) Authenticate(_ context.Context, presented string) (Principal, bool) {
	var (
		match Principal
		found bool
	)
	for _, t := range s {
		if constantTimeEqual(presented, t.Token) && !found {
			match = Principal{
				Caller: strings.TrimSpace(t.Caller),
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}
			found = true
		}
	}
	if !found || match.Caller == "" {
		return Principal{}, false
	}
	return match, true
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeExportWrite]; ok {
		out[ScopeExportRead] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
