package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/token"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type userRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type refreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindValid(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
	Rotate(ctx context.Context, oldToken string, now time.Time, next *models.RefreshToken) (string, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error)
}

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	RefreshTokenExpiry time.Duration
}

// AuthService orchestrates the session lifecycle: issuance at
// register/login, rotation on refresh, and revocation on logout.
type AuthService struct {
	users     userRepository
	tokens    refreshTokenRepository
	audit     auditRepository
	codec     *token.Manager
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users userRepository, tokens refreshTokenRepository, audit auditRepository, codec *token.Manager, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		audit:     audit,
		codec:     codec,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Register creates a new account and issues its first session.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(passwordHash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	res, err := s.issueSession(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionRegister, req.IP, req.UserAgent, nil)
	return res, nil
}

// Login authenticates a user and issues a new session. Unknown email
// and wrong password produce the same error so account existence is not
// leaked.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	res, err := s.issueSession(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.metrics.RecordLogin()
	s.recordAudit(ctx, &user.ID, models.AuditActionLogin, req.IP, req.UserAgent, nil)
	return res, nil
}

// Refresh rotates the presented refresh token and issues a new access
// token. Rotation is atomic: once a value has been used, re-presenting
// it fails, which surfaces replay of a stolen token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	now := time.Now().UTC()
	next := &models.RefreshToken{
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	}

	userID, err := s.tokens.Rotate(ctx, req.RefreshToken, now, next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Missing, expired, revoked, or already rotated: one
			// uniform answer, detail stays in the logs.
			s.logger.Info("refresh token rejected", zap.String("ip", req.IP))
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired refresh token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired refresh token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, _, err := s.codec.Issue(user.ID, user.Email, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.metrics.RecordRefresh()
	s.recordAudit(ctx, &user.ID, models.AuditActionRefresh, req.IP, req.UserAgent, []byte(`{"refresh":"rotated"}`))

	return &models.RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		ExpiresIn:    int64(s.codec.TTL().Seconds()),
	}, nil
}

// Logout revokes exactly the presented refresh token. Access tokens
// already issued against it stay valid until their natural expiry.
// Unknown and already-revoked values get the same unauthorized answer.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}

	if err := s.tokens.Revoke(ctx, req.RefreshToken, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	s.metrics.RecordRevoked(1)
	s.recordAudit(ctx, nil, models.AuditActionLogout, req.IP, req.UserAgent, nil)
	return nil
}

// LogoutAll revokes every live refresh token owned by the user, ending
// all sessions across devices. Outstanding access tokens are not
// recalled; their short TTL bounds the exposure.
func (s *AuthService) LogoutAll(ctx context.Context, userID, ip, userAgent string) error {
	count, err := s.tokens.RevokeAllForUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh tokens")
	}

	s.metrics.RecordRevoked(count)
	s.recordAudit(ctx, &userID, models.AuditActionLogoutAll, ip, userAgent, nil)
	return nil
}

// ChangePassword verifies the current password, stores a new hash, and
// revokes every session so stolen refresh tokens die with the old
// password.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "unauthorized")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "current password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if count, err := s.tokens.RevokeAllForUser(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	} else {
		s.metrics.RecordRevoked(count)
	}

	s.recordAudit(ctx, &userID, models.AuditActionPasswordChange, "", "", nil)
	return nil
}

// CurrentUser loads the authenticated user's public profile.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.MeResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unauthorized")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return &models.MeResponse{User: user.Info()}, nil
}

// Sessions lists the caller's active refresh credentials without
// exposing their opaque values.
func (s *AuthService) Sessions(ctx context.Context, userID string) (*models.SessionsResponse, error) {
	tokens, err := s.tokens.ListActiveForUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	sessions := make([]models.SessionInfo, 0, len(tokens))
	for _, rt := range tokens {
		sessions = append(sessions, models.SessionInfo{
			ID:        rt.ID,
			CreatedAt: rt.CreatedAt,
			ExpiresAt: rt.ExpiresAt,
			IPAddress: rt.IPAddress,
			UserAgent: rt.UserAgent,
		})
	}
	return &models.SessionsResponse{Sessions: sessions}, nil
}

// VerifyAccessToken delegates to the codec. Used by the guard
// middleware so handlers never touch the signing secret.
func (s *AuthService) VerifyAccessToken(signed string) (*token.Claims, error) {
	claims, err := s.codec.Verify(signed)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, ip, userAgent string) (*models.AuthResponse, error) {
	now := time.Now().UTC()

	accessToken, _, err := s.codec.Issue(user.ID, user.Email, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken := &models.RefreshToken{
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.Create(ctx, refreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.codec.TTL().Seconds()),
		User:         user.Info(),
	}, nil
}

func (s *AuthService) recordAudit(ctx context.Context, userID *string, action, ip, userAgent string, detail []byte) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Create(ctx, &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		Detail:    detail,
		IPAddress: ip,
		UserAgent: userAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
