package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/auth-api/internal/models"
)

// RefreshTokenRepository is the system of record for refresh
// credentials. All mutation of session state goes through it; expiry is
// enforced lazily at lookup time rather than by a sweeper.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// NewTokenValue returns a 256-bit random opaque token value. Collisions
// between concurrent creates are cryptographically negligible.
func NewTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create persists a refresh token entry, generating the opaque value
// and identifier when absent.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.Token == "" {
		value, err := NewTokenValue()
		if err != nil {
			return err
		}
		token.Token = value
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindValid returns the refresh token for the given opaque value only
// when it is unrevoked and unexpired. Revoked, expired, and unknown
// values are all sql.ErrNoRows.
func (r *RefreshTokenRepository) FindValid(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 AND revoked = FALSE AND expires_at > $2 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token, now.UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks the token with the given opaque value as revoked. A
// second revoke of the same value, or a revoke of an unknown value,
// returns sql.ErrNoRows.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, token, revokedAt.UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RevokeAllForUser revokes every live refresh token owned by the user
// and returns how many were affected.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, userID, revokedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return affected, nil
}

// Rotate atomically revokes the old token value and inserts its
// replacement. The conditional UPDATE makes concurrent rotations of the
// same value race on the revoked flag: at most one transaction revokes
// the row, every other caller gets sql.ErrNoRows. Returns the owning
// user ID.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldToken string, now time.Time, next *models.RefreshToken) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE AND expires_at > $2 RETURNING user_id`
	var userID string
	if err := tx.GetContext(ctx, &userID, revokeQuery, oldToken, now.UTC()); err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}

	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.Token == "" {
		value, err := NewTokenValue()
		if err != nil {
			return "", err
		}
		next.Token = value
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now.UTC()
	}
	next.UserID = userID

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, next); err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	return userID, nil
}

// ListActiveForUser returns the user's unrevoked, unexpired sessions,
// newest first.
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2 ORDER BY created_at DESC`
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID, now.UTC()); err != nil {
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	return tokens, nil
}
