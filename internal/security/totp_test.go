package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base32 encoding of the RFC 6238 appendix B shared secret.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestTOTPCodeReferenceVectors(t *testing.T) {
	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, v := range vectors {
		code, err := TOTPCode(rfcSecret, time.Unix(v.unix, 0).UTC())
		require.NoError(t, err)
		assert.Equal(t, v.code, code, "unix %d", v.unix)
	}
}

func TestValidateTOTPWindow(t *testing.T) {
	at := time.Unix(1111111109, 0).UTC()

	prev, err := TOTPCode(rfcSecret, at.Add(-30*time.Second))
	require.NoError(t, err)
	next, err := TOTPCode(rfcSecret, at.Add(30*time.Second))
	require.NoError(t, err)

	assert.True(t, ValidateTOTP(rfcSecret, "081804", at))
	assert.True(t, ValidateTOTP(rfcSecret, prev, at), "one step behind is accepted")
	assert.True(t, ValidateTOTP(rfcSecret, next, at), "one step ahead is accepted")

	stale, err := TOTPCode(rfcSecret, at.Add(-2*30*time.Second))
	require.NoError(t, err)
	assert.False(t, ValidateTOTP(rfcSecret, stale, at), "two steps behind is rejected")
	assert.False(t, ValidateTOTP(rfcSecret, "000000", at))
	assert.False(t, ValidateTOTP(rfcSecret, "81804", at), "short codes are rejected")
}

func TestGenerateTOTPSecret(t *testing.T) {
	a, err := GenerateTOTPSecret()
	require.NoError(t, err)
	b, err := GenerateTOTPSecret()
	require.NoError(t, err)

	assert.Len(t, a, 32) // 20 bytes, base32 without padding
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI(rfcSecret, "alice@acme.example", "saasforge")

	assert.Contains(t, uri, "otpauth://totp/saasforge:alice@acme.example?")
	assert.Contains(t, uri, "secret="+rfcSecret)
	assert.Contains(t, uri, "issuer=saasforge")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	for _, c := range codes {
		assert.Regexp(t, `^[0-9]{4}-[0-9]{4}$`, c, "codes are eight decimal digits")
	}
}
