package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlacklist struct {
	revoked map[string]bool
	err     error
}

func (m *memBlacklist) IsJTIBlacklisted(_ context.Context, jti string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.revoked[jti], nil
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestIssueAndValidate(t *testing.T) {
	key := testKey(t)
	iss := NewIssuer(key, "saasforge")
	val := NewValidator(&key.PublicKey, "saasforge", &memBlacklist{revoked: map[string]bool{}})

	now := time.Now()
	raw, jti, err := iss.AccessToken("user-1", "acme", "alice@acme.example", []string{"admin"}, now)
	require.NoError(t, err)
	assert.Len(t, jti, 32)

	claims, err := val.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "alice@acme.example", claims.Email)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, jti, claims.ID)
	assert.WithinDuration(t, now.Add(AccessTokenTTL), claims.ExpiresAt.Time, 2*time.Second)
}

func TestValidateFailuresAreUniform(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)
	iss := NewIssuer(key, "saasforge")
	val := NewValidator(&key.PublicKey, "saasforge", nil)

	expired, _, err := iss.AccessToken("user-1", "acme", "a@b.c", nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	foreignIss := NewIssuer(key, "someone-else")
	wrongIssuer, _, err := foreignIss.AccessToken("user-1", "acme", "a@b.c", nil, time.Now())
	require.NoError(t, err)

	misSigned, _, err := NewIssuer(otherKey, "saasforge").AccessToken("user-1", "acme", "a@b.c", nil, time.Now())
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"garbage":      "not.a.token",
		"empty":        "",
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"mis-signed":   misSigned,
	} {
		_, err := val.Validate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestValidateBlacklistedJTI(t *testing.T) {
	key := testKey(t)
	iss := NewIssuer(key, "saasforge")
	bl := &memBlacklist{revoked: map[string]bool{}}
	val := NewValidator(&key.PublicKey, "saasforge", bl)

	raw, jti, err := iss.AccessToken("user-1", "acme", "a@b.c", nil, time.Now())
	require.NoError(t, err)

	_, err = val.Validate(context.Background(), raw)
	require.NoError(t, err)

	bl.revoked[jti] = true
	_, err = val.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateBlacklistOutageIsNotAnAuthError(t *testing.T) {
	key := testKey(t)
	iss := NewIssuer(key, "saasforge")
	boom := errors.New("redis down")
	val := NewValidator(&key.PublicKey, "saasforge", &memBlacklist{err: boom})

	raw, _, err := iss.AccessToken("user-1", "acme", "a@b.c", nil, time.Now())
	require.NoError(t, err)

	_, err = val.Validate(context.Background(), raw)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, boom)
}

func TestRefreshTokenShape(t *testing.T) {
	tok, err := NewRefreshToken("user-1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tok, "user-1:"))
	userID, ok := SplitRefreshToken(tok)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	_, ok = SplitRefreshToken("no-separator")
	assert.False(t, ok)
	_, ok = SplitRefreshToken("user-1:tooshort")
	assert.False(t, ok)
	_, ok = SplitRefreshToken("user-1:" + strings.Repeat("z", 64))
	assert.False(t, ok, "non-hex secret is rejected")
	_, ok = SplitRefreshToken(":" + strings.Repeat("a", 64))
	assert.False(t, ok, "empty user id is rejected")
}
