package security

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigners(t *testing.T) []Signer {
	t.Helper()
	seed := bytes.Repeat([]byte{7}, 32)
	ed, err := NewEd25519Signer(seed)
	require.NoError(t, err)
	b3, err := NewBlake3Signer(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	return []Signer{ed, b3}
}

func TestSigners(t *testing.T) {
	payload := strings.Repeat("module bytes ", 1000)

	for _, s := range testSigners(t) {
		t.Run(s.Name(), func(t *testing.T) {
			sig, err := s.Sign(strings.NewReader(payload))
			require.NoError(t, err)
			require.NotEmpty(t, sig)

			ok, err := s.Verify(strings.NewReader(payload), sig)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Verify(strings.NewReader(payload+"x"), sig)
			require.NoError(t, err)
			assert.False(t, ok, "tampered payload must not verify")

			sig[0] ^= 0xff
			ok, err = s.Verify(strings.NewReader(payload), sig)
			require.NoError(t, err)
			assert.False(t, ok, "tampered signature must not verify")
		})
	}
}

func TestSignerKeySizes(t *testing.T) {
	_, err := NewEd25519Signer([]byte("short"))
	assert.Error(t, err)
	_, err = NewBlake3Signer([]byte("short"))
	assert.Error(t, err)
	_, err = NewXChaChaCipher([]byte("short"))
	assert.Error(t, err)
}

func TestCiphers(t *testing.T) {
	xc, err := NewXChaChaCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	identity, err := GenerateAgeIdentity()
	require.NoError(t, err)
	ac, err := NewAgeCipher(identity)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ac.Recipient(), "age1"))

	for _, c := range []Cipher{xc, ac} {
		t.Run(c.Name(), func(t *testing.T) {
			secret := []byte("keystore-password")
			sealed, err := c.Encrypt(secret)
			require.NoError(t, err)
			assert.NotEqual(t, secret, sealed)

			opened, err := c.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, secret, opened)

			sealed[len(sealed)-1] ^= 0xff
			_, err = c.Decrypt(sealed)
			assert.Error(t, err)
		})
	}

	t.Run("ShortCiphertext", func(t *testing.T) {
		_, err := xc.Decrypt([]byte{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.DefaultSigner()
	assert.ErrorIs(t, err, ErrUnknownSigner)

	for _, s := range testSigners(t) {
		reg.AddSigner(s)
	}

	def, err := reg.DefaultSigner()
	require.NoError(t, err)
	assert.Equal(t, Ed25519Name, def.Name(), "first signer added is the default")

	require.NoError(t, reg.SetDefaultSigner(Blake3Name))
	def, err = reg.DefaultSigner()
	require.NoError(t, err)
	assert.Equal(t, Blake3Name, def.Name())

	assert.ErrorIs(t, reg.SetDefaultSigner("rsa"), ErrUnknownSigner)
	_, err = reg.Cipher("rot13")
	assert.ErrorIs(t, err, ErrUnknownCipher)
	assert.Equal(t, []string{Blake3Name, Ed25519Name}, reg.SignerNames())
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()

	reg, err := Setup(Options{KeyDir: dir, Passphrase: "hunter2", Cipher: AgeName, Signer: Blake3Name})
	require.NoError(t, err)

	signer, err := reg.DefaultSigner()
	require.NoError(t, err)
	assert.Equal(t, Blake3Name, signer.Name())

	cipher, err := reg.DefaultCipher()
	require.NoError(t, err)
	assert.Equal(t, AgeName, cipher.Name())

	for _, name := range []string{"salt", "age-identity.key", "ed25519.key", "blake3.key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	sig, err := signer.Sign(strings.NewReader("payload"))
	require.NoError(t, err)

	t.Run("ReopenReusesKeys", func(t *testing.T) {
		again, err := Setup(Options{KeyDir: dir, Passphrase: "hunter2", Cipher: AgeName, Signer: Blake3Name})
		require.NoError(t, err)
		s, err := again.Signer(Blake3Name)
		require.NoError(t, err)
		ok, err := s.Verify(strings.NewReader("payload"), sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		_, err := Setup(Options{KeyDir: dir, Passphrase: "wrong", Cipher: AgeName})
		assert.Error(t, err)
	})

	t.Run("MissingKeyDir", func(t *testing.T) {
		_, err := Setup(Options{})
		assert.Error(t, err)
	})
}
