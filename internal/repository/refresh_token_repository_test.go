package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
)

func TestNewTokenValueUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		value, err := NewTokenValue()
		require.NoError(t, err)
		assert.Len(t, value, 43)
		_, dup := seen[value]
		assert.False(t, dup)
		seen[value] = struct{}{}
	}
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Create(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.NotEmpty(t, token.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindValid(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at", "ip_address", "user_agent"}).
		AddRow("rt1", "u1", "value", now.Add(time.Hour), now, false, nil, "127.0.0.1", "test")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 AND revoked = FALSE AND expires_at > $2 LIMIT 1")).
		WithArgs("value", sqlmock.AnyArg()).
		WillReturnRows(rows)

	rt, err := repo.FindValid(context.Background(), "value", now)
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindValidMiss(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectQuery("SELECT id, user_id").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindValid(context.Background(), "expired-or-revoked", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRevoke(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE")).
		WithArgs("value", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Revoke(context.Background(), "value", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAlreadyRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	// Zero rows touched: unknown or already-revoked value.
	mock.ExpectExec("UPDATE refresh_tokens SET revoked").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "value", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.RevokeAllForUser(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE AND expires_at > $2 RETURNING user_id")).
		WithArgs("old", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &models.RefreshToken{ExpiresAt: time.Now().Add(time.Hour)}
	userID, err := repo.Rotate(context.Background(), "old", time.Now(), next)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "u1", next.UserID)
	assert.NotEmpty(t, next.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateLosesRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	next := &models.RefreshToken{ExpiresAt: time.Now().Add(time.Hour)}
	_, err := repo.Rotate(context.Background(), "already-rotated", time.Now(), next)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at", "ip_address", "user_agent"}).
		AddRow("rt2", "u1", "v2", now.Add(time.Hour), now, false, nil, "", "").
		AddRow("rt1", "u1", "v1", now.Add(time.Hour), now.Add(-time.Minute), false, nil, "", "")
	mock.ExpectQuery("SELECT id, user_id, token").WithArgs("u1", sqlmock.AnyArg()).WillReturnRows(rows)

	tokens, err := repo.ListActiveForUser(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
