package vortex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexhq/vortex/pkg/roles"
	"github.com/vortexhq/vortex/pkg/session"
)

// grantChecker resolves permissions from a static role grant table, the
// way the real checker resolves them from the registry.
type grantChecker struct {
	grants map[string]roles.Statements
}

func (c *grantChecker) Check(ctx context.Context, req roles.PermissionRequest) bool {
	role := req.Role
	if role == "" {
		if s, ok := session.FromContext(ctx); ok {
			role = s.Role
		}
	}
	if role == "" {
		return false
	}
	for _, name := range strings.Split(role, ",") {
		stmts, ok := c.grants[strings.TrimSpace(name)]
		if !ok {
			continue
		}
		allowed := true
		for domain, actions := range req.Permission {
			if !stmts.Allows(domain, actions) {
				allowed = false
				break
			}
		}
		if allowed {
			return true
		}
	}
	return false
}

func (c *grantChecker) EffectivePermissions(ctx context.Context, userID string) roles.Statements {
	return nil
}

func setupHandlerTest(t *testing.T) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	checker := &grantChecker{grants: map[string]roles.Statements{
		"admin": {
			"violation":  {"create", "list", "manage", "update"},
			"moderation": {"view"},
		},
	}}
	svc := NewService(NewStore(db), checker, &fakeRefresher{version: 1}, testLogger(), nil)

	router := mux.NewRouter()
	NewHandlers(svc, testLogger()).RegisterRoutes(router)
	return router, mock
}

func doJSON(t *testing.T, router *mux.Router, sess *session.Session, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sess != nil {
		req = req.WithContext(session.WithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func adminSession() *session.Session {
	return &session.Session{UserID: "mod-1", Role: "admin", ExpiresAt: time.Now().Add(time.Hour)}
}

func userSession(id string) *session.Session {
	return &session.Session{UserID: id, Role: "user", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestHasPermissionResponseShape(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, nil, "POST", "/vortex/has-permission", map[string]interface{}{
		"permission": map[string][]string{"violation": {"create"}},
		"role":       "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Error   *string `json:"error"`
		Success bool    `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.True(t, resp.Success)
}

func TestHasPermissionDeniedIsSuccessFalse(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, nil, "POST", "/vortex/has-permission", map[string]interface{}{
		"permission": map[string][]string{"violation": {"create"}},
		"role":       "user",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestHasPermissionRejectsMultiDomain(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, nil, "POST", "/vortex/has-permission", map[string]interface{}{
		"permission": map[string][]string{"violation": {"create"}, "user": {"ban"}},
		"role":       "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateViolationUnauthenticated(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, nil, "POST", "/vortex/create-violation", CreateViolationInput{
		UserID: "u1", Content: "spam", Severity: 5,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateViolationForbiddenForUser(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, userSession("u1"), "POST", "/vortex/create-violation", CreateViolationInput{
		UserID: "u2", Content: "spam", Severity: 5,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListViolationsBadPagination(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, adminSession(), "GET", "/vortex/list-violations?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveDisputeNotFound(t *testing.T) {
	router, mock := setupHandlerTest(t)
	mock.ExpectQuery("SELECT (.+) FROM disputes WHERE id").
		WillReturnRows(sqlmock.NewRows(disputeCols))

	rec := doJSON(t, router, adminSession(), "POST", "/vortex/resolve-dispute", ResolveDisputeInput{
		DisputeID: "missing", Status: DisputeApproved, Justification: "reviewed evidence",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRolesVersion(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, userSession("u1"), "GET", "/vortex/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":1}`, rec.Body.String())
}

// TestViolationLifecycle walks the whole moderation flow: a plain user is
// denied, a moderator records a violation, the target user disputes it,
// the dispute is approved and the violation comes back overturned with
// moderator fields hidden.
func TestViolationLifecycle(t *testing.T) {
	router, mock := setupHandlerTest(t)

	// Plain users may not create violations.
	rec := doJSON(t, router, nil, "POST", "/vortex/has-permission", map[string]interface{}{
		"permission": map[string][]string{"violation": {"create"}},
		"role":       "user",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	// The moderator records a violation against u1.
	mock.ExpectExec("INSERT INTO violations").WillReturnResult(sqlmock.NewResult(0, 1))

	rec = doJSON(t, router, adminSession(), "POST", "/vortex/create-violation", CreateViolationInput{
		UserID:          "u1",
		Content:         "posted offensive content in chat",
		Severity:        5,
		ApplicableRules: []string{"OFFENSIVE"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Violation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 5, created.Severity)
	assert.Equal(t, []string{"OFFENSIVE"}, created.ApplicableRules)
	assert.False(t, created.Overturned)

	// u1 disputes it.
	mock.ExpectQuery("SELECT (.+) FROM violations WHERE id").
		WithArgs(created.ID).
		WillReturnRows(storedViolationRow(&created))
	mock.ExpectQuery("SELECT (.+) FROM disputes WHERE violation_id").
		WithArgs(created.ID).
		WillReturnRows(sqlmock.NewRows(disputeCols))
	mock.ExpectExec("INSERT INTO disputes").WillReturnResult(sqlmock.NewResult(0, 1))

	rec = doJSON(t, router, userSession("u1"), "POST", "/vortex/dispute-violation", DisputeViolationInput{
		ViolationID: created.ID,
		Reason:      "I was framed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dispute Dispute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dispute))
	assert.Equal(t, DisputePending, dispute.Status)

	// The moderator approves the dispute; the violation is overturned in
	// the same transaction.
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM disputes WHERE id").
		WithArgs(dispute.ID).
		WillReturnRows(sqlmock.NewRows(disputeCols).
			AddRow(dispute.ID, created.ID, "u1", "I was framed", "pending", "", "", nil, now, now))
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE disputes").
		WillReturnRows(sqlmock.NewRows(disputeCols).
			AddRow(dispute.ID, created.ID, "u1", "I was framed", "approved", "reviewed evidence", "mod-1", now, now, now))
	mock.ExpectExec("UPDATE violations SET overturned = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec = doJSON(t, router, adminSession(), "POST", "/vortex/resolve-dispute", ResolveDisputeInput{
		DisputeID:     dispute.ID,
		Status:        DisputeApproved,
		Justification: "reviewed evidence",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)

	// u1 now sees the violation overturned, without moderator fields.
	created.Overturned = true
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM violations").
		WillReturnRows(storedViolationRow(&created))

	rec = doJSON(t, router, userSession("u1"), "GET", "/vortex/my-violations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overturned":true`)
	assert.NotContains(t, rec.Body.String(), "internalNote")
	assert.NotContains(t, rec.Body.String(), "moderatorId")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func storedViolationRow(v *Violation) *sqlmock.Rows {
	rules, _ := json.Marshal(v.ApplicableRules)
	return sqlmock.NewRows(violationCols).AddRow(
		v.ID, v.UserID, v.ModeratorID, v.Content, v.Severity, rules,
		v.PublicComment, v.InternalNote, v.Overturned, v.ExpiresAt,
		v.ExternalStatus, v.ExternalMetadata, v.CreatedAt, v.UpdatedAt, v.UpdatedBy)
}

func TestRouteMethodsEnforced(t *testing.T) {
	router, _ := setupHandlerTest(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/vortex/create-violation"},
		{"POST", "/vortex/list-violations"},
		{"GET", "/vortex/resolve-dispute"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, fmt.Sprintf("%s %s", tc.method, tc.path))
	}
}
