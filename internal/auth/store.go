// Package auth implements the Auth Engine: login, session issuance, refresh
// rotation with reuse detection, API keys with scope matching, the TOTP
// second factor, email OTP, and OAuth account linking.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/saasforge/backend/internal/database"
)

var (
	// ErrUserNotFound covers absent and soft-deleted rows alike.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrKeyNotFound reports an unknown or already revoked API key row.
	ErrKeyNotFound = errors.New("auth: api key not found")
)

// User is an account row. A nil PasswordHash marks an OAuth-only account.
type User struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	Email          string         `db:"email"`
	PasswordHash   *string        `db:"password_hash"`
	Roles          pq.StringArray `db:"roles"`
	TOTPSecret     string         `db:"totp_secret"`
	TOTPEnrolledAt *time.Time     `db:"totp_enrolled_at"`
	CreatedAt      time.Time      `db:"created_at"`
	LastLoginAt    *time.Time     `db:"last_login_at"`
	DeletedAt      *time.Time     `db:"deleted_at"`
}

// TOTPEnrolled reports whether the second factor is active.
func (u *User) TOTPEnrolled() bool {
	return u.TOTPSecret != ""
}

// APIKey is a stored key row; the plaintext never persists.
type APIKey struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	TenantID   string         `db:"tenant_id"`
	Name       string         `db:"name"`
	KeyHash    string         `db:"key_hash"`
	Scopes     pq.StringArray `db:"scopes"`
	CreatedAt  time.Time      `db:"created_at"`
	ExpiresAt  time.Time      `db:"expires_at"`
	LastUsedAt *time.Time     `db:"last_used_at"`
	RevokedAt  *time.Time     `db:"revoked_at"`
}

// Store runs the engine's SQL against the shared pool.
type Store struct {
	pool *database.Pool
}

// NewStore wires the store to the pool.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// GetUserByEmail loads a live account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `SELECT * FROM users WHERE email = $1 AND deleted_at IS NULL`, email)
}

// GetUserByID loads a live account by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `SELECT * FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*User, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var u User
	err = lease.Conn.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts an account.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, tenant_id, email, password_hash, roles)
			 VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.TenantID, u.Email, u.PasswordHash, u.Roles)
		if err != nil {
			return fmt.Errorf("auth: create user: %w", err)
		}
		return nil
	})
}

// TouchLastLogin stamps a successful authentication.
func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
		return err
	})
}

// ConsumeBackupCode marks the matching unused backup code as used and stamps
// the login in the same transaction. Returns false when no unused code
// matches.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	consumed := false
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE backup_codes SET used = TRUE
			 WHERE user_id = $1 AND code_hash = $2 AND NOT used`,
			userID, codeHash)
		if err != nil {
			return fmt.Errorf("auth: consume backup code: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		consumed = true
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
		return err
	})
	return consumed, err
}

// EnrollTOTP sets the secret, stamps enrollment, and stores the hashed backup
// codes in one transaction.
func (s *Store) EnrollTOTP(ctx context.Context, userID, secret string, codeHashes []string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET totp_secret = $1, totp_enrolled_at = NOW()
			 WHERE id = $2 AND deleted_at IS NULL`,
			secret, userID)
		if err != nil {
			return fmt.Errorf("auth: enroll totp: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		return insertBackupCodes(ctx, tx, userID, codeHashes)
	})
}

// DisableTOTP clears the secret and deletes every backup code.
func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET totp_secret = '', totp_enrolled_at = NULL WHERE id = $1`,
			userID); err != nil {
			return fmt.Errorf("auth: disable totp: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE user_id = $1`, userID)
		return err
	})
}

// ReplaceBackupCodes deletes and re-inserts the user's codes in one
// transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("auth: clear backup codes: %w", err)
		}
		return insertBackupCodes(ctx, tx, userID, codeHashes)
	})
}

func insertBackupCodes(ctx context.Context, tx *sqlx.Tx, userID string, codeHashes []string) error {
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (id, user_id, code_hash) VALUES ($1, $2, $3)`,
			uuid.NewString(), userID, h); err != nil {
			return fmt.Errorf("auth: insert backup code: %w", err)
		}
	}
	return nil
}

// CreateAPIKey persists a key row.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO api_keys (id, user_id, tenant_id, name, key_hash, scopes, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			k.ID, k.UserID, k.TenantID, k.Name, k.KeyHash, k.Scopes, k.ExpiresAt)
		if err != nil {
			return fmt.Errorf("auth: create api key: %w", err)
		}
		return nil
	})
}

// ListActiveAPIKeys returns every non-revoked, non-expired key row.
func (s *Store) ListActiveAPIKeys(ctx context.Context) ([]APIKey, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var keys []APIKey
	err = lease.Conn.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE revoked_at IS NULL AND expires_at > NOW()`)
	if err != nil {
		return nil, fmt.Errorf("auth: list api keys: %w", err)
	}
	return keys, nil
}

// TouchAPIKey stamps a successful validation.
func (s *Store) TouchAPIKey(ctx context.Context, keyID string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
		return err
	})
}

// RevokeAPIKey revokes a key owned by the caller. ErrKeyNotFound when the row
// is absent, foreign, or already revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, userID, keyID string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET revoked_at = NOW()
			 WHERE id = $1 AND tenant_id = $2 AND user_id = $3 AND revoked_at IS NULL`,
			keyID, tenantID, userID)
		if err != nil {
			return fmt.Errorf("auth: revoke api key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrKeyNotFound
		}
		return nil
	})
}

// GetOAuthUser resolves a linked (provider, provider user id) pair to its
// account.
func (s *Store) GetOAuthUser(ctx context.Context, provider, providerUserID string) (*User, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var u User
	err = lease.Conn.GetContext(ctx, &u,
		`SELECT u.* FROM users u
		 JOIN oauth_accounts oa ON oa.user_id = u.id
		 WHERE oa.provider = $1 AND oa.provider_user_id = $2 AND u.deleted_at IS NULL`,
		provider, providerUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get oauth user: %w", err)
	}
	return &u, nil
}

// CreateOAuthUser inserts a passwordless account and its provider link in one
// transaction.
func (s *Store) CreateOAuthUser(ctx context.Context, u *User, provider, providerUserID string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, tenant_id, email, password_hash, roles)
			 VALUES ($1, $2, $3, NULL, $4)`,
			u.ID, u.TenantID, u.Email, u.Roles); err != nil {
			return fmt.Errorf("auth: create oauth user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO oauth_accounts (id, user_id, provider, provider_user_id)
			 VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), u.ID, provider, providerUserID); err != nil {
			return fmt.Errorf("auth: link oauth account: %w", err)
		}
		return nil
	})
}
