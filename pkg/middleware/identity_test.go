package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, os.Stderr)
}

func TestHeaderIdentityResolver(t *testing.T) {
	resolver := NewHeaderIdentityResolver(testLogger(), "X-Alignex-User", "fallback@company.com", "default-org")

	var gotUser, gotOrg string
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = contextkeys.GetIdentity(r.Context())
		gotOrg = contextkeys.GetOrg(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Alignex-User", "a@x.com")
	req.Header.Set("X-Alignex-User-Org", "acme")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != "a@x.com" {
		t.Errorf("expected identity a@x.com, got %q", gotUser)
	}
	if gotOrg != "acme" {
		t.Errorf("expected org acme, got %q", gotOrg)
	}
}

func TestHeaderIdentityResolverFallsBackToDefaults(t *testing.T) {
	resolver := NewHeaderIdentityResolver(testLogger(), "X-Alignex-User", "fallback@company.com", "default-org")

	var gotUser, gotOrg string
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = contextkeys.GetIdentity(r.Context())
		gotOrg = contextkeys.GetOrg(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if gotUser != "fallback@company.com" {
		t.Errorf("expected fallback identity, got %q", gotUser)
	}
	if gotOrg != "default-org" {
		t.Errorf("expected default org, got %q", gotOrg)
	}
}
