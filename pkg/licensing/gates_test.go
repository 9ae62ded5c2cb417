package licensing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignex/entitlements/pkg/contextkeys"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("content"))
	})
}

func scenarioStore() *fakeStore {
	store := newFakeStore()
	store.licenses["a@x.com"] = &UserLicense{
		UserEmail: "a@x.com", OrgID: "org-1", Tier: TierTeamMember, Active: true,
	}
	store.modules["org-1"] = []OrgModule{
		{OrgID: "org-1", Module: ModuleBase, Active: true},
		{OrgID: "org-1", Module: ModuleSkills, Active: false},
		{OrgID: "org-1", Module: ModuleBenefits, Active: true},
	}
	store.rules[TierTeamMember] = []PermissionRule{
		{Tier: TierTeamMember, Action: ActionView, CanExecute: true},
		{Tier: TierTeamMember, Action: ActionEdit, CanExecute: true},
		{Tier: TierTeamMember, Action: ActionManage, CanExecute: false},
	}
	return store
}

func requestAs(email string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if email != "" {
		req = req.WithContext(contextkeys.WithIdentity(context.Background(), email))
	}
	return req
}

func TestModuleGateAllowsActiveModule(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "https://example.com/upgrade")

	handler := gate.RequireModule(ModuleBenefits)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "content", rec.Body.String())
}

func TestModuleGateUpgradePromptByDefault(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "https://example.com/upgrade")

	handler := gate.RequireModule(ModuleSkills)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "module_not_available", body["error"])
	assert.Equal(t, "skills", body["module"])
	assert.Equal(t, "https://example.com/upgrade", body["upgrade_url"])
}

func TestModuleGateUnavailableRendersNothing(t *testing.T) {
	store := scenarioStore()
	store.modules["org-1"] = []OrgModule{
		{OrgID: "org-1", Module: ModuleBenefits, Active: false},
	}
	resolver := newTestResolver(store, time.Now)
	gate := NewGate(resolver, "fallback@x.com", "https://example.com/upgrade")

	handler := gate.RequireModule(ModuleBenefits, WithoutUpgradePrompt())(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "content")
}

func TestModuleGateFallbackWins(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "https://example.com/upgrade")

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fallback"))
	})
	handler := gate.RequireModule(ModuleSkills, WithFallback(fallback))(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, "fallback", rec.Body.String())
}

func TestModuleGateBaseNeverBlocked(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	resolver := newTestResolver(store, time.Now)
	gate := NewGate(resolver, "fallback@x.com", "")

	handler := gate.RequireModule(ModuleBase)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPermissionGateAllows(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "")

	handler := gate.RequirePermission(ActionView)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPermissionGateDeniedRendersNothing(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "")

	handler := gate.RequirePermission(ActionManage)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "content")
}

func TestPermissionGateLockIndicator(t *testing.T) {
	resolver := newTestResolver(scenarioStore(), time.Now)
	gate := NewGate(resolver, "fallback@x.com", "")

	handler := gate.RequirePermission(ActionManage, WithLockIndicator())(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["restricted"])
}

func TestGateExplicitUserOverridesContext(t *testing.T) {
	store := scenarioStore()
	store.licenses["viewer@x.com"] = &UserLicense{
		UserEmail: "viewer@x.com", OrgID: "org-1", Tier: TierReadOnly, Active: true,
	}
	store.rules[TierReadOnly] = []PermissionRule{
		{Tier: TierReadOnly, Action: ActionView, CanExecute: true},
		{Tier: TierReadOnly, Action: ActionEdit, CanExecute: false},
	}
	resolver := newTestResolver(store, time.Now)
	gate := NewGate(resolver, "fallback@x.com", "")

	handler := gate.RequirePermission(ActionEdit, WithUser("viewer@x.com"))(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("a@x.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code, "gate must resolve the pinned identity")
}

func TestGateDefaultUserWhenNoIdentity(t *testing.T) {
	store := newFakeStore()
	store.licenses["default@x.com"] = &UserLicense{
		UserEmail: "default@x.com", OrgID: "org-1", Tier: TierReadOnly, Active: true,
	}
	store.rules[TierReadOnly] = []PermissionRule{
		{Tier: TierReadOnly, Action: ActionView, CanExecute: true},
	}
	resolver := newTestResolver(store, time.Now)
	gate := NewGate(resolver, "default@x.com", "")

	handler := gate.RequirePermission(ActionView)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(""))

	assert.Equal(t, http.StatusOK, rec.Code)
}
