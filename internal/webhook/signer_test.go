package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignReferenceVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig := Sign([]byte("what do ya want for nothing?"), "Jefe")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestSignShape(t *testing.T) {
	sig := Sign([]byte(`{"event":"user.created"}`), "whsec_abc")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign([]byte(`{"event":"user.created"}`), "whsec_abc"))
	assert.NotEqual(t, sig, Sign([]byte(`{"event":"user.created"}`), "whsec_abd"))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"user.created"}`)
	sig := Sign(payload, "s")

	assert.True(t, VerifySignature(payload, sig, "s"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte("tampered"), sig, "s"))
	assert.False(t, VerifySignature(payload, sig[:63], "s"))
	assert.False(t, VerifySignature(payload, "", "s"))
}
