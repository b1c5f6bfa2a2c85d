package security

import (
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Blake3Name is the signature file extension for keyed BLAKE3 MACs.
const Blake3Name = "blake3"

// Blake3Signer produces keyed BLAKE3 MACs. Unlike Ed25519 the same secret
// signs and verifies, so it only protects against tampering by parties that
// cannot read the host's key store.
type Blake3Signer struct {
	key []byte
}

// NewBlake3Signer builds a signer from a 32-byte key.
func NewBlake3Signer(key []byte) (*Blake3Signer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("blake3 key must be 32 bytes, got %d", len(key))
	}
	return &Blake3Signer{key: append([]byte(nil), key...)}, nil
}

func (s *Blake3Signer) Name() string { return Blake3Name }

func (s *Blake3Signer) Sign(r io.Reader) ([]byte, error) {
	hasher, err := blake3.NewKeyed(s.key)
	if err != nil {
		return nil, fmt.Errorf("blake3 keyed hasher: %w", err)
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("hash stream: %w", err)
	}
	return hasher.Sum(nil), nil
}

func (s *Blake3Signer) Verify(r io.Reader, signature []byte) (bool, error) {
	expected, err := s.Sign(r)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected, signature) == 1, nil
}
