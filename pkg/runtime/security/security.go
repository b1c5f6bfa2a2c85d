// Package security provides the signers and ciphers used by the runtime.
//
// Signers produce and check detached signatures over module artifacts.
// Ciphers encrypt small at-rest secrets such as signer key material.
// Both are addressed by a stable name and held in a Registry built at
// startup and passed explicitly to the components that need it.
package security

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	// ErrVerification is returned when a module signature is missing or
	// does not verify.
	ErrVerification = errors.New("signature verification failed")

	// ErrUnknownSigner is returned when no signer is registered under a name.
	ErrUnknownSigner = errors.New("unknown signer")

	// ErrUnknownCipher is returned when no cipher is registered under a name.
	ErrUnknownCipher = errors.New("unknown cipher")
)

// Signer produces and checks detached signatures over byte streams.
type Signer interface {
	// Name is the stable algorithm name. It is used as the signature file
	// extension, so it must be a valid file name component.
	Name() string

	Sign(r io.Reader) ([]byte, error)
	Verify(r io.Reader, signature []byte) (bool, error)
}

// Cipher encrypts and decrypts small secrets.
type Cipher interface {
	Name() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Registry is a name-keyed set of signers and ciphers.
type Registry struct {
	mu            sync.RWMutex
	signers       map[string]Signer
	ciphers       map[string]Cipher
	defaultSigner string
	defaultCipher string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		signers: make(map[string]Signer),
		ciphers: make(map[string]Cipher),
	}
}

// AddSigner registers s. The first signer added becomes the default.
func (r *Registry) AddSigner(s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[s.Name()] = s
	if r.defaultSigner == "" {
		r.defaultSigner = s.Name()
	}
}

// AddCipher registers c. The first cipher added becomes the default.
func (r *Registry) AddCipher(c Cipher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ciphers[c.Name()] = c
	if r.defaultCipher == "" {
		r.defaultCipher = c.Name()
	}
}

// SetDefaultSigner selects the signer used for new signatures.
func (r *Registry) SetDefaultSigner(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, name)
	}
	r.defaultSigner = name
	return nil
}

// SetDefaultCipher selects the cipher used for at-rest secrets.
func (r *Registry) SetDefaultCipher(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ciphers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCipher, name)
	}
	r.defaultCipher = name
	return nil
}

// Signer returns the signer registered under name.
func (r *Registry) Signer(name string) (Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, name)
	}
	return s, nil
}

// DefaultSigner returns the signer used for new module signatures.
func (r *Registry) DefaultSigner() (Signer, error) {
	r.mu.RLock()
	name := r.defaultSigner
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("%w: no signers registered", ErrUnknownSigner)
	}
	return r.Signer(name)
}

// Cipher returns the cipher registered under name.
func (r *Registry) Cipher(name string) (Cipher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ciphers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, name)
	}
	return c, nil
}

// DefaultCipher returns the cipher used for at-rest secrets.
func (r *Registry) DefaultCipher() (Cipher, error) {
	r.mu.RLock()
	name := r.defaultCipher
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("%w: no ciphers registered", ErrUnknownCipher)
	}
	return r.Cipher(name)
}

// SignerNames returns the registered signer names, sorted.
func (r *Registry) SignerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.signers))
	for name := range r.signers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
