package entitlement

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Verifier checks that a purchase receipt was signed by the trusted
// authority. A Verifier with no key configured skips verification and treats
// every receipt as valid; that is the documented, less-secure default for
// installations that have not provisioned a key.
type Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier decodes a base64-encoded Ed25519 public key. An empty key
// yields a verifier that skips verification.
func NewVerifier(base64Key string) (*Verifier, error) {
	if base64Key == "" {
		return &Verifier{}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode trusted public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("trusted public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	return &Verifier{pub: ed25519.PublicKey(raw)}, nil
}

// Enabled reports whether a trusted key is configured.
func (v *Verifier) Enabled() bool {
	return len(v.pub) > 0
}

// Verify checks the signature over the raw payload bytes. With no key
// configured it passes; with a key configured it fails closed on empty or
// undecodable input. It never panics on malformed data.
func (v *Verifier) Verify(payload, signature string) bool {
	if !v.Enabled() {
		return true
	}
	if payload == "" || signature == "" {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		log.Debug().Err(err).Msg("Purchase signature not decodable")
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(v.pub, []byte(payload), sig)
}
