package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexhq/vortex/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func sessionRows(token, userID, role string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"token", "user_id", "role", "expires_at"}).
		AddRow(token, userID, role, expiresAt)
}

func TestManagerResolveCachesLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Now().Add(time.Hour)
	mock.ExpectQuery("SELECT s.token, s.user_id, u.role, s.expires_at").
		WithArgs("tok-1").
		WillReturnRows(sessionRows("tok-1", "u1", "moderator", expires))

	m := NewManager(NewStore(db), 128, time.Minute, testLogger())
	ctx := context.Background()

	s, ok := m.Resolve(ctx, "tok-1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "moderator", s.Role)

	// Second resolution must come from the cache: no second query
	// expectation is registered.
	s, ok = m.Resolve(ctx, "tok-1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerResolveUnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT s.token, s.user_id, u.role, s.expires_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id", "role", "expires_at"}))

	m := NewManager(NewStore(db), 128, time.Minute, testLogger())

	_, ok := m.Resolve(context.Background(), "missing")
	assert.False(t, ok)
}

func TestManagerResolveExpiredSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT s.token, s.user_id, u.role, s.expires_at").
		WithArgs("stale").
		WillReturnRows(sessionRows("stale", "u1", "user", time.Now().Add(-time.Minute)))

	m := NewManager(NewStore(db), 128, time.Minute, testLogger())

	_, ok := m.Resolve(context.Background(), "stale")
	assert.False(t, ok)
}

func TestManagerResolveEmptyToken(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewManager(NewStore(db), 128, time.Minute, testLogger())
	_, ok := m.Resolve(context.Background(), "")
	assert.False(t, ok)
}

func TestStoreUserRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT role FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin,moderator"))

	store := NewStore(db)
	role, err := store.UserRole(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin,moderator", role)
}

func TestCurrentIdentity(t *testing.T) {
	ctx := context.Background()
	_, _, ok := CurrentIdentity(ctx)
	assert.False(t, ok)

	ctx = WithSession(ctx, &Session{UserID: "u1", Role: "admin"})
	userID, role, ok := CurrentIdentity(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "admin", role)
}
