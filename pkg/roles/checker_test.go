package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	roles map[string]string
	err   error
}

func (f *fakeDirectory) UserRole(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return role, nil
}

func setupCheckerTest(t *testing.T, users UserDirectory, session SessionFunc) (*Checker, *fakeStore, func()) {
	t.Helper()

	store := &fakeStore{}
	reg, _, _, cleanup := setupRegistryTest(t, store)
	reg.RegisterDynamic("moderator", Statements{"violation": {"list", "update"}})
	reg.RegisterDynamic("viewer", Statements{"moderation": {"view"}})
	reg.initialized.Store(true) // avoid lazy loads interfering with call counts

	if users == nil {
		users = &fakeDirectory{roles: map[string]string{}}
	}
	checker := NewChecker(reg, users, session, testLogger(), nil)
	return checker, store, cleanup
}

func TestCheckRejectsNonSingleDomain(t *testing.T) {
	checker, store, cleanup := setupCheckerTest(t, nil, nil)
	defer cleanup()
	checker.registry.initialized.Store(false)

	ctx := context.Background()

	assert.False(t, checker.Check(ctx, PermissionRequest{Role: AdminRoleID}))
	assert.False(t, checker.Check(ctx, PermissionRequest{
		Role:       AdminRoleID,
		Permission: map[string][]string{},
	}))
	assert.False(t, checker.Check(ctx, PermissionRequest{
		Role: AdminRoleID,
		Permission: map[string][]string{
			"violation":  {"create"},
			"moderation": {"view"},
		},
	}))
	assert.False(t, checker.Check(ctx, PermissionRequest{
		Role:       AdminRoleID,
		Permission: map[string][]string{"violation": {}},
	}))

	// Validation happens before any registry or store consultation.
	assert.Equal(t, int64(0), store.calls.Load())
}

func TestCheckExplicitRole(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, nil, nil)
	defer cleanup()

	ctx := context.Background()

	assert.True(t, checker.Check(ctx, PermissionRequest{
		Role:       AdminRoleID,
		Permission: map[string][]string{"violation": {"create"}},
	}))
	assert.False(t, checker.Check(ctx, PermissionRequest{
		Role:       "moderator",
		Permission: map[string][]string{"violation": {"create"}},
	}))
	assert.False(t, checker.Check(ctx, PermissionRequest{
		Role:       "unknown-role",
		Permission: map[string][]string{"violation": {"list"}},
	}))
}

func TestCheckDeniesUnknownDomain(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, nil, nil)
	defer cleanup()

	assert.False(t, checker.Check(context.Background(), PermissionRequest{
		Role:       "moderator",
		Permission: map[string][]string{"billing": {"read"}},
	}))
}

func TestCheckMultiRoleOr(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, &fakeDirectory{roles: map[string]string{
		"u1": "viewer,moderator",
		"u2": "viewer",
	}}, nil)
	defer cleanup()

	ctx := context.Background()

	// Any single role granting the full set allows.
	assert.True(t, checker.Check(ctx, PermissionRequest{
		UserID:     "u1",
		Permission: map[string][]string{"violation": {"list", "update"}},
	}))

	// Roles are evaluated independently: no cross-role union of partial
	// grants.
	assert.False(t, checker.Check(ctx, PermissionRequest{
		UserID:     "u1",
		Permission: map[string][]string{"violation": {"list", "manage"}},
	}))

	assert.False(t, checker.Check(ctx, PermissionRequest{
		UserID:     "u2",
		Permission: map[string][]string{"violation": {"list"}},
	}))
}

func TestCheckSessionFallback(t *testing.T) {
	session := func(ctx context.Context) (string, string, bool) {
		return "session-user", "moderator", true
	}
	checker, _, cleanup := setupCheckerTest(t, nil, session)
	defer cleanup()

	assert.True(t, checker.Check(context.Background(), PermissionRequest{
		Permission: map[string][]string{"violation": {"list"}},
	}))
}

func TestCheckFailsClosedWithoutIdentity(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, nil, nil)
	defer cleanup()

	assert.False(t, checker.Check(context.Background(), PermissionRequest{
		Permission: map[string][]string{"violation": {"list"}},
	}))
}

func TestCheckFailsClosedOnDirectoryError(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, &fakeDirectory{err: errors.New("db down")}, nil)
	defer cleanup()

	assert.False(t, checker.Check(context.Background(), PermissionRequest{
		UserID:     "u1",
		Permission: map[string][]string{"violation": {"list"}},
	}))
}

func TestEffectivePermissions(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, &fakeDirectory{roles: map[string]string{
		"u1": "moderator,viewer",
	}}, nil)
	defer cleanup()

	effective := checker.EffectivePermissions(context.Background(), "u1")

	require.NotEmpty(t, effective)
	assert.Equal(t, []string{"list", "update"}, effective["violation"])
	assert.Equal(t, []string{"view"}, effective["moderation"])
	assert.Empty(t, effective["settings"], "admin grants must not leak into a non-admin aggregation")
}

func TestEffectivePermissionsNoIdentity(t *testing.T) {
	checker, _, cleanup := setupCheckerTest(t, nil, nil)
	defer cleanup()

	assert.Empty(t, checker.EffectivePermissions(context.Background(), ""))
}
