package auth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/metrics"
	"github.com/saasforge/backend/internal/security"
	"github.com/saasforge/backend/internal/token"
)

// invalidCredentials is shared by "no such user" and "bad password" so the
// response cannot be used for account enumeration.
const invalidCredentials = "Invalid credentials"

// userStore is the slice of Store the session operations need; tests
// substitute an in-memory fake.
type userStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	TouchLastLogin(ctx context.Context, userID string) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	EnrollTOTP(ctx context.Context, userID, secret string, codeHashes []string) error
	DisableTOTP(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
}

// Session is the result of a successful credential exchange.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
	User         *User
}

// Service implements the session lifecycle.
type Service struct {
	store     userStore
	cache     *cache.Client
	issuer    *token.Issuer
	validator *token.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the engine together.
func NewService(store userStore, c *cache.Client, issuer *token.Issuer, validator *token.Validator) *Service {
	return &Service{
		store:     store,
		cache:     c,
		issuer:    issuer,
		validator: validator,
		logger:    slog.With("component", "auth"),
		now:       time.Now,
	}
}

// Login exchanges credentials for a session. oauthBypass is settable only by
// the in-process OAuth callback path; it never comes off the wire.
func (s *Service) Login(ctx context.Context, email, password, totpCode string, oauthBypass bool) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("denied").Inc()
		return nil, status.Error(codes.Unauthenticated, invalidCredentials)
	}

	if u.PasswordHash == nil {
		// OAuth-only account: the login path never accepts it directly.
		if !oauthBypass || password != "" {
			metrics.LoginAttempts.WithLabelValues("denied").Inc()
			return nil, status.Error(codes.Unauthenticated, "This account uses OAuth sign-in")
		}
	} else if !security.VerifyPassword(password, *u.PasswordHash) {
		metrics.LoginAttempts.WithLabelValues("denied").Inc()
		return nil, status.Error(codes.Unauthenticated, invalidCredentials)
	}

	if u.TOTPEnrolled() && !oauthBypass {
		if totpCode == "" {
			return nil, status.Error(codes.FailedPrecondition, "TOTP code required")
		}
		if !security.ValidateTOTP(u.TOTPSecret, totpCode, s.now()) {
			consumed, err := s.store.ConsumeBackupCode(ctx, u.ID, security.HashToken(totpCode))
			if err != nil {
				return nil, status.Error(codes.Internal, "could not verify backup code")
			}
			if !consumed {
				metrics.LoginAttempts.WithLabelValues("denied").Inc()
				return nil, status.Error(codes.Unauthenticated, "Invalid TOTP code")
			}
		}
	}

	sess, err := s.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchLastLogin(ctx, u.ID); err != nil {
		s.logger.Error("failed to stamp last login", "user_id", u.ID, "error", err)
	}
	metrics.LoginAttempts.WithLabelValues("granted").Inc()
	return sess, nil
}

// Logout tears down the session. It is idempotent: an already-dead refresh
// token still yields success so callers cannot probe session state.
func (s *Service) Logout(ctx context.Context, refreshToken, bearer string) error {
	userID, ok := token.SplitRefreshToken(refreshToken)
	if !ok {
		return status.Error(codes.InvalidArgument, "malformed refresh token")
	}

	if err := s.cache.DeleteRefreshToken(ctx, userID); err != nil {
		return status.Error(codes.Internal, "could not revoke session")
	}

	// Blacklist the live access token for the rest of its natural lifetime.
	if bearer != "" {
		if claims, err := s.validator.Validate(ctx, bearer); err == nil {
			if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
				if err := s.cache.BlacklistJTI(ctx, claims.ID, remaining); err != nil {
					s.logger.Error("failed to blacklist jti", "jti", claims.ID, "error", err)
				}
			}
		}
	}
	return nil
}

// Refresh rotates a refresh token into a fresh session. Presenting a rotated
// token is treated as theft: the whole session chain is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	userID, ok := token.SplitRefreshToken(refreshToken)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "malformed refresh token")
	}

	stored, found, err := s.cache.GetRefreshToken(ctx, userID)
	if err != nil {
		return nil, status.Error(codes.Internal, "session store unavailable")
	}
	if !found {
		metrics.TokenRefreshes.WithLabelValues("denied").Inc()
		return nil, status.Error(codes.Unauthenticated, "session expired")
	}

	if stored != refreshToken {
		// Reuse detection: a previously rotated token came back.
		if err := s.cache.DeleteRefreshToken(ctx, userID); err != nil {
			s.logger.Error("failed to revoke reused session", "user_id", userID, "error", err)
		}
		s.logger.Warn("refresh token reuse detected",
			"security_alert", "token_reuse", "user_id", userID)
		metrics.SecurityAlerts.WithLabelValues("token_reuse").Inc()
		metrics.TokenRefreshes.WithLabelValues("reuse_detected").Inc()
		return nil, status.Error(codes.PermissionDenied, "Token reuse detected. All sessions revoked.")
	}

	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if err := s.cache.DeleteRefreshToken(ctx, userID); err != nil {
			s.logger.Error("failed to clear orphaned session", "user_id", userID, "error", err)
		}
		metrics.TokenRefreshes.WithLabelValues("denied").Inc()
		return nil, status.Error(codes.Unauthenticated, "session expired")
	}

	sess, err := s.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("rotated").Inc()
	return sess, nil
}

// ValidateToken decodes and checks an access token, returning its claims.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*token.Claims, error) {
	claims, err := s.validator.Validate(ctx, raw)
	if err != nil {
		if err == token.ErrInvalidToken {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return nil, status.Error(codes.Unavailable, "authentication backend unavailable")
	}
	return claims, nil
}

// issueSession mints the token pair and rebinds the cache session. The bind
// is delete-then-set so a crash in between leaves the user logged out rather
// than holding two live refresh tokens.
func (s *Service) issueSession(ctx context.Context, u *User) (*Session, error) {
	access, _, err := s.issuer.AccessToken(u.ID, u.TenantID, u.Email, u.Roles, s.now())
	if err != nil {
		return nil, status.Error(codes.Internal, "could not issue access token")
	}
	refresh, err := token.NewRefreshToken(u.ID)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not issue refresh token")
	}

	if err := s.cache.DeleteRefreshToken(ctx, u.ID); err != nil {
		return nil, status.Error(codes.Internal, "session store unavailable")
	}
	if err := s.cache.SetRefreshToken(ctx, u.ID, refresh, token.RefreshTokenTTL); err != nil {
		return nil, status.Error(codes.Internal, "session store unavailable")
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(token.AccessTokenTTL.Seconds()),
		User:         u,
	}, nil
}
