package security

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// XChaChaName identifies the XChaCha20-Poly1305 cipher.
	XChaChaName = "xchacha20poly1305"

	// AgeName identifies the age X25519 cipher.
	AgeName = "age"
)

// XChaChaCipher seals secrets with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext.
type XChaChaCipher struct {
	key []byte
}

// NewXChaChaCipher builds a cipher from a 32-byte key.
func NewXChaChaCipher(key []byte) (*XChaChaCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("xchacha20poly1305 key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &XChaChaCipher{key: append([]byte(nil), key...)}, nil
}

func (c *XChaChaCipher) Name() string { return XChaChaName }

func (c *XChaChaCipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *XChaChaCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// AgeCipher encrypts to a single X25519 identity.
type AgeCipher struct {
	identity *age.X25519Identity
}

// NewAgeCipher parses an AGE-SECRET-KEY-1... identity.
func NewAgeCipher(identity string) (*AgeCipher, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return &AgeCipher{identity: id}, nil
}

// GenerateAgeIdentity returns a fresh identity in its string form.
func GenerateAgeIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate age identity: %w", err)
	}
	return id.String(), nil
}

func (c *AgeCipher) Name() string { return AgeName }

// Recipient returns the public age1... recipient string.
func (c *AgeCipher) Recipient() string { return c.identity.Recipient().String() }

func (c *AgeCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age finalize: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *AgeCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	return io.ReadAll(r)
}

// DeriveKey stretches a passphrase into a 32-byte key with Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}
