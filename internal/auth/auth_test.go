package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	key, err := ExtractBearerToken(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != "test-key" {
		t.Fatalf("expected key %q, got %q", "test-key", key)
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	if _, err := ExtractBearerToken(req2); err == nil {
		t.Fatalf("expected error for missing header")
	}

	req3 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req3.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractBearerToken(req3); err == nil {
		t.Fatalf("expected error for non-bearer header")
	}

	req4 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req4.Header.Set("Authorization", "Bearer   ")
	if _, err := ExtractBearerToken(req4); err == nil {
		t.Fatalf("expected error for empty bearer token")
	}
}

func TestStaticTokensAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := StaticTokens{
		{Token: "tok-a", Caller: "user-a", Scopes: []string{ScopeExportWrite}},
		{Token: "tok-b", Caller: "user-b", Scopes: []string{ScopeExportRead}},
		{Token: "tok-orphan", Caller: "  ", Scopes: []string{ScopeAll}},
	}
	ctx := context.Background()

	p, ok := tokens.Authenticate(ctx, "tok-a")
	if !ok {
		t.Fatal("expected tok-a to authenticate")
	}
	if p.Caller != "user-a" {
		t.Fatalf("caller = %q, want user-a", p.Caller)
	}
	if !HasAnyScope(p, ScopeExportRead) {
		t.Fatalf("export:rw should imply export:ro")
	}

	p, ok = tokens.Authenticate(ctx, "tok-b")
	if !ok || p.Caller != "user-b" {
		t.Fatalf("expected user-b, got %+v ok=%v", p, ok)
	}
	if HasAnyScope(p, ScopeExportWrite) {
		t.Fatalf("read-only token must not carry export:rw")
	}

	if _, ok := tokens.Authenticate(ctx, "nope"); ok {
		t.Fatal("unknown token must not authenticate")
	}
	if _, ok := tokens.Authenticate(ctx, ""); ok {
		t.Fatal("empty token must not authenticate")
	}
	if _, ok := tokens.Authenticate(ctx, "tok-orphan"); ok {
		t.Fatal("token without caller identity must not authenticate")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithPrincipal(context.Background(), Principal{Caller: "user-a"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Caller != "user-a" {
		t.Fatalf("PrincipalFromContext = %+v, %v", p, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal on empty context")
	}
}

func TestHasAnyScopeWildcard(t *testing.T) {
	t.Parallel()

	p := Principal{Scopes: normalizeScopes([]string{ScopeAll})}
	if !HasAnyScope(p, ScopeExportWrite) {
		t.Fatal("wildcard should satisfy any scope")
	}
	if !HasAnyScope(Principal{}) {
		t.Fatal("no required scopes should always pass")
	}
}
