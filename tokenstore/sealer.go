package tokenstore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts values before they reach a persistent tier, so a copied
// database file does not hand out a usable refresh token.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer expects a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[tokenstore.NewSealer]")
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns base64(nonce || ciphertext)
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "[Sealer.Seal] rand.Read")
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Anything that fails to decrypt is ErrCorrupt.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", storeerrors.ErrCorrupt
	}
	if len(raw) < s.aead.NonceSize() {
		return "", storeerrors.ErrCorrupt
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", storeerrors.ErrCorrupt
	}
	return string(plaintext), nil
}
