package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/licensing"
	"github.com/alignex/entitlements/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func identityMiddleware(email string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(contextkeys.WithIdentity(r.Context(), email)))
		})
	}
}

func newTestServer(t *testing.T, identity string) (*Server, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	logger := testLogger()
	store := licensing.NewStore(db, logger, nil)
	resolver := licensing.NewResolver(store, licensing.NewMemoryCache(), logger)
	handlers := licensing.NewHandlers(store, resolver, logger, "current.user@company.com")
	gate := licensing.NewGate(resolver, "current.user@company.com", "https://example.com/upgrade")

	return NewServer(handlers, gate, logger, identityMiddleware(identity)), mock
}

func licenseRow(email, org, tier string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_email", "org_id", "tier", "active", "assigned_at", "last_access_at", "notes",
	}).AddRow(1, email, org, tier, true, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), nil, "")
}

func expectLicense(mock sqlmock.Sqlmock, email, org, tier string) {
	mock.ExpectQuery("SELECT (.+) FROM user_licenses WHERE user_email = (.+) AND active = true").
		WithArgs(email).
		WillReturnRows(licenseRow(email, org, tier))
}

func expectRules(mock sqlmock.Sqlmock, tier string, rules map[string]bool) {
	rows := sqlmock.NewRows([]string{"tier", "action", "can_execute"})
	for action, allowed := range rules {
		rows.AddRow(tier, action, allowed)
	}
	mock.ExpectQuery("SELECT (.+) FROM tier_permissions WHERE tier = (.+)").
		WithArgs(tier).
		WillReturnRows(rows)
}

func TestAccessTierEndpoint(t *testing.T) {
	server, mock := newTestServer(t, "a@x.com")
	expectLicense(mock, "a@x.com", "org-1", "team_member")
	mock.ExpectExec("UPDATE user_licenses SET last_access_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/access/tier", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "team_member", body["tier"])
}

func TestAdminEndpointsBlockedForTeamMember(t *testing.T) {
	server, mock := newTestServer(t, "a@x.com")
	expectLicense(mock, "a@x.com", "org-1", "team_member")
	expectRules(mock, "team_member", map[string]bool{"view": true, "manage": false})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["restricted"])
}

func TestAdminEndpointsAllowedForManager(t *testing.T) {
	server, mock := newTestServer(t, "admin@x.com")
	expectLicense(mock, "admin@x.com", "org-1", "full_license")
	expectRules(mock, "full_license", map[string]bool{"view": true, "manage": true})
	mock.ExpectQuery("SELECT (.+) FROM user_licenses").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_email", "org_id", "tier", "active", "assigned_at", "last_access_at", "notes",
		}))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []interface{}{}, body["licenses"])
}

func TestHeatmapEndpoint(t *testing.T) {
	server, mock := newTestServer(t, "a@x.com")
	expectLicense(mock, "a@x.com", "org-1", "team_member")
	expectRules(mock, "team_member", map[string]bool{"view": true})

	payload := `{"tasks":[{"resource":"alice","start":"2026-03-02T00:00:00Z","end":"2026-03-06T00:00:00Z","hours":40}]}`
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/allocation/heatmap",
		strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body heatmapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cells, 1)
	assert.Equal(t, "alice", body.Cells[0].Resource)
	assert.Equal(t, "2026-03-02", body.Cells[0].WeekStart)
	assert.InDelta(t, 40, body.Cells[0].Hours, 1e-9)
}

func TestHeatmapRejectsEmptyTasks(t *testing.T) {
	server, mock := newTestServer(t, "a@x.com")
	expectLicense(mock, "a@x.com", "org-1", "team_member")
	expectRules(mock, "team_member", map[string]bool{"view": true})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/allocation/heatmap",
		strings.NewReader(`{"tasks":[]}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
