package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:v1:"

var ErrCorrupt = errors.New("secrets: sealed value is corrupt")

// Box seals short secrets (hosting passwords) for storage at rest. A Box
// built from an empty key passes values through unchanged.
type Box struct {
	key []byte
}

func NewBox(secret string) *Box {
	if secret == "" {
		return &Box{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Box{key: sum[:]}
}

func (b *Box) Enabled() bool {
	return b != nil && len(b.key) > 0
}

func (b *Box) Seal(plain string) (string, error) {
	if !b.Enabled() || plain == "" {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values stored before a key was configured are
// returned as-is.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if !b.Enabled() {
		return "", errors.New("secrets: value is sealed but no SECRET_KEY is configured")
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrCorrupt
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrCorrupt
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", ErrCorrupt
	}
	return string(plain), nil
}
