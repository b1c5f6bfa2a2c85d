package security

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"io"
)

// Ed25519Name is the signature file extension for Ed25519 signatures.
const Ed25519Name = "ed25519"

// Ed25519Signer signs the SHA-512 digest of a stream (Ed25519ph), so
// arbitrarily large modules never need to be held in memory.
type Ed25519Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewEd25519Signer builds a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
	}, nil
}

func (s *Ed25519Signer) Name() string { return Ed25519Name }

// PublicKey returns the verification key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.public }

func (s *Ed25519Signer) Sign(r io.Reader) ([]byte, error) {
	digest, err := sha512Digest(r)
	if err != nil {
		return nil, err
	}
	return s.private.Sign(nil, digest, &ed25519.Options{Hash: crypto.SHA512})
}

func (s *Ed25519Signer) Verify(r io.Reader, signature []byte) (bool, error) {
	digest, err := sha512Digest(r)
	if err != nil {
		return false, err
	}
	err = ed25519.VerifyWithOptions(s.public, digest, signature, &ed25519.Options{Hash: crypto.SHA512})
	return err == nil, nil
}

func sha512Digest(r io.Reader) ([]byte, error) {
	h := sha512.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash stream: %w", err)
	}
	return h.Sum(nil), nil
}
