package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const saltFile = "salt"

// KeyStore persists key material in a directory, encrypted with a Cipher.
type KeyStore struct {
	dir    string
	cipher Cipher
}

// NewKeyStore creates a key store rooted at dir.
func NewKeyStore(dir string, cipher Cipher) *KeyStore {
	return &KeyStore{dir: dir, cipher: cipher}
}

func (k *KeyStore) path(name string) string {
	return filepath.Join(k.dir, name+".key")
}

// Load reads and decrypts the key stored under name. A missing key yields
// an error matching fs.ErrNotExist.
func (k *KeyStore) Load(name string) ([]byte, error) {
	sealed, err := os.ReadFile(k.path(name))
	if err != nil {
		return nil, err
	}
	key, err := k.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal key %s with %s: %w", name, k.cipher.Name(), err)
	}
	return key, nil
}

// Store encrypts and writes key under name with owner-only permissions.
func (k *KeyStore) Store(name string, key []byte) error {
	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	sealed, err := k.cipher.Encrypt(key)
	if err != nil {
		return fmt.Errorf("seal key %s: %w", name, err)
	}
	return writeFileAtomic(k.path(name), sealed, 0600)
}

// LoadOrCreate returns the key stored under name, generating and storing a
// new one on first use.
func (k *KeyStore) LoadOrCreate(name string, generate func() ([]byte, error)) ([]byte, error) {
	key, err := k.Load(name)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	key, err = generate()
	if err != nil {
		return nil, fmt.Errorf("generate key %s: %w", name, err)
	}
	if err := k.Store(name, key); err != nil {
		return nil, err
	}
	return key, nil
}

// RandomKey returns a generator for n random bytes.
func RandomKey(n int) func() ([]byte, error) {
	return func() ([]byte, error) {
		key := make([]byte, n)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}
}

// Options configures Setup.
type Options struct {
	// KeyDir holds the salt and the sealed key files.
	KeyDir string

	// Passphrase seeds the master key. It should come from the environment,
	// never from the config file.
	Passphrase string

	// Cipher names the cipher that seals signer keys and secrets.
	// Empty selects xchacha20poly1305.
	Cipher string

	// Signer names the default module signer. Empty selects ed25519.
	Signer string
}

// Setup builds the runtime registry: it derives the master key from the
// passphrase, unseals (or creates) the age identity and the signer keys,
// and registers every signer and cipher.
func Setup(opts Options) (*Registry, error) {
	if opts.KeyDir == "" {
		return nil, errors.New("key directory is required")
	}
	if err := os.MkdirAll(opts.KeyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	salt, err := loadOrCreateSalt(opts.KeyDir)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()

	master, err := NewXChaChaCipher(DeriveKey(opts.Passphrase, salt))
	if err != nil {
		return nil, err
	}
	reg.AddCipher(master)

	identity, err := NewKeyStore(opts.KeyDir, master).LoadOrCreate("age-identity", func() ([]byte, error) {
		id, err := GenerateAgeIdentity()
		return []byte(id), err
	})
	if err != nil {
		return nil, err
	}
	ageCipher, err := NewAgeCipher(string(identity))
	if err != nil {
		return nil, err
	}
	reg.AddCipher(ageCipher)

	if opts.Cipher != "" {
		if err := reg.SetDefaultCipher(opts.Cipher); err != nil {
			return nil, err
		}
	}
	atRest, err := reg.DefaultCipher()
	if err != nil {
		return nil, err
	}
	keys := NewKeyStore(opts.KeyDir, atRest)

	seed, err := keys.LoadOrCreate(Ed25519Name, RandomKey(32))
	if err != nil {
		return nil, err
	}
	ed, err := NewEd25519Signer(seed)
	if err != nil {
		return nil, err
	}
	reg.AddSigner(ed)

	macKey, err := keys.LoadOrCreate(Blake3Name, RandomKey(32))
	if err != nil {
		return nil, err
	}
	b3, err := NewBlake3Signer(macKey)
	if err != nil {
		return nil, err
	}
	reg.AddSigner(b3)

	if opts.Signer != "" {
		if err := reg.SetDefaultSigner(opts.Signer); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(path)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	salt, err = RandomKey(16)()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := writeFileAtomic(path, salt, 0600); err != nil {
		return nil, err
	}
	return salt, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
