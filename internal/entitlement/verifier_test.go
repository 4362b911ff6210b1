package entitlement

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func sign(priv ed25519.PrivateKey, payload string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(payload)))
}

func TestNewVerifier(t *testing.T) {
	t.Run("empty key skips verification", func(t *testing.T) {
		v, err := NewVerifier("")
		require.NoError(t, err)
		assert.False(t, v.Enabled())
		assert.True(t, v.Verify("anything", "at-all"))
	})

	t.Run("invalid base64 rejected", func(t *testing.T) {
		_, err := NewVerifier("%%%not-base64%%%")
		assert.Error(t, err)
	})

	t.Run("wrong key size rejected", func(t *testing.T) {
		_, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
	})

	t.Run("valid key accepted", func(t *testing.T) {
		pubB64, _ := testKeyPair(t)
		v, err := NewVerifier(pubB64)
		require.NoError(t, err)
		assert.True(t, v.Enabled())
	})
}

func TestVerifier_Verify(t *testing.T) {
	pubB64, priv := testKeyPair(t)
	v, err := NewVerifier(pubB64)
	require.NoError(t, err)

	payload := `{"productId":"premium_monthly","purchaseTime":1700000000000}`
	goodSig := sign(priv, payload)

	t.Run("valid signature passes", func(t *testing.T) {
		assert.True(t, v.Verify(payload, goodSig))
	})

	t.Run("tampered payload fails closed", func(t *testing.T) {
		assert.False(t, v.Verify(payload+" ", goodSig))
	})

	t.Run("signature from another key fails closed", func(t *testing.T) {
		_, otherPriv := testKeyPair(t)
		assert.False(t, v.Verify(payload, sign(otherPriv, payload)))
	})

	t.Run("empty payload fails closed", func(t *testing.T) {
		assert.False(t, v.Verify("", goodSig))
	})

	t.Run("empty signature fails closed", func(t *testing.T) {
		assert.False(t, v.Verify(payload, ""))
	})

	t.Run("undecodable signature fails closed without panic", func(t *testing.T) {
		assert.False(t, v.Verify(payload, "!!not base64!!"))
	})

	t.Run("truncated signature fails closed", func(t *testing.T) {
		assert.False(t, v.Verify(payload, base64.StdEncoding.EncodeToString([]byte("tiny"))))
	})
}
