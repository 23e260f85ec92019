// Package token issues and validates the RS256 access tokens and the opaque
// refresh tokens that carry a saasforge session.
package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AccessTokenTTL bounds both token lifetime and the blacklist entry for a
	// revoked jti.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL bounds how long a rotation chain can idle.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is the uniform validation failure. Expired, malformed,
// mis-signed, wrong-issuer, and blacklisted tokens are indistinguishable to
// callers so the error itself leaks nothing.
var ErrInvalidToken = errors.New("token: invalid")

// Claims is the access-token payload.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// Issuer signs access tokens.
type Issuer struct {
	key    *rsa.PrivateKey
	issuer string
}

// NewIssuer wraps a signing key under the configured issuer name.
func NewIssuer(key *rsa.PrivateKey, issuer string) *Issuer {
	return &Issuer{key: key, issuer: issuer}
}

// Name returns the configured issuer string.
func (i *Issuer) Name() string { return i.issuer }

// AccessToken mints a signed token for the user and returns it with its jti.
func (i *Issuer) AccessToken(userID, tenantID, email string, roles []string, now time.Time) (string, string, error) {
	jtiRaw := make([]byte, 16)
	if _, err := rand.Read(jtiRaw); err != nil {
		return "", "", fmt.Errorf("token: jti: %w", err)
	}
	jti := hex.EncodeToString(jtiRaw)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		TenantID: tenantID,
		Email:    email,
		Roles:    roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, jti, nil
}

// Blacklist answers whether a jti has been revoked.
type Blacklist interface {
	IsJTIBlacklisted(ctx context.Context, jti string) (bool, error)
}

// Validator checks access tokens against the public key, the issuer, and the
// revocation blacklist.
type Validator struct {
	pub       *rsa.PublicKey
	issuer    string
	blacklist Blacklist
}

// NewValidator builds a validator. blacklist may be nil when revocation
// checking is handled elsewhere.
func NewValidator(pub *rsa.PublicKey, issuer string, blacklist Blacklist) *Validator {
	return &Validator{pub: pub, issuer: issuer, blacklist: blacklist}
}

// Validate returns the claims of a well-formed, live, non-revoked token.
// Every token-shaped failure is ErrInvalidToken; only a blacklist transport
// failure surfaces as itself, so callers can map it to an infrastructure
// error instead of an auth error.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return v.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.TenantID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	if v.blacklist != nil {
		revoked, err := v.blacklist.IsJTIBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("token: blacklist check: %w", err)
		}
		if revoked {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// NewRefreshToken mints the opaque refresh credential "<user-id>:<64 hex>".
func NewRefreshToken(userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token: refresh: %w", err)
	}
	return userID + ":" + hex.EncodeToString(raw), nil
}

// SplitRefreshToken extracts the user id from a refresh token, reporting
// whether the shape is plausible.
func SplitRefreshToken(tok string) (string, bool) {
	userID, secret, ok := strings.Cut(tok, ":")
	if !ok || userID == "" || len(secret) != 64 {
		return "", false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", false
	}
	return userID, true
}

// LoadPrivateKey reads an RSA private key from a PEM file (PKCS#1 or PKCS#8).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("token: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("token: private key %s: no PEM block", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("token: private key %s is not RSA", path)
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key from a PEM file (PKIX or PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("token: read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("token: public key %s: no PEM block", path)
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("token: public key %s is not RSA", path)
	}
	return key, nil
}

// EphemeralKey generates a throwaway signing key for development processes
// that run without configured key material.
func EphemeralKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("token: ephemeral key: %w", err)
	}
	return key, nil
}
