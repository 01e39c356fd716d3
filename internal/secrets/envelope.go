// Package secrets seals small secrets with envelope encryption: every value gets
// a fresh AES-256 data key, and the data key is wrapped by the configured master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMasterKeyNotSet is returned when sealing or opening without a configured master key.
var ErrMasterKeyNotSet = errors.New("master key not set")

const keySize = 32

// Sealed is the stored form of a secret. Both fields are base64(nonce || ciphertext).
type Sealed struct {
	Ciphertext string
	WrappedKey string
}

// Keyring holds the master key. A nil key disables sealing.
type Keyring struct {
	master []byte
}

// NewKeyring returns a keyring for a 32 byte master key, or a disabled keyring for nil.
func NewKeyring(master []byte) (*Keyring, error) {
	if master != nil && len(master) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(master))
	}
	return &Keyring{master: master}, nil
}

// Enabled reports whether a master key is configured.
func (k *Keyring) Enabled() bool {
	return k != nil && len(k.master) == keySize
}

// Seal encrypts plaintext under a new data key and wraps that key with the master key.
func (k *Keyring) Seal(plaintext string) (Sealed, error) {
	if !k.Enabled() {
		return Sealed{}, ErrMasterKeyNotSet
	}

	dataKey := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return Sealed{}, fmt.Errorf("rand data key: %w", err)
	}

	ciphertext, err := encrypt(dataKey, []byte(plaintext))
	if err != nil {
		return Sealed{}, fmt.Errorf("encrypt secret: %w", err)
	}
	wrapped, err := encrypt(k.master, dataKey)
	if err != nil {
		return Sealed{}, fmt.Errorf("wrap data key: %w", err)
	}

	return Sealed{Ciphertext: ciphertext, WrappedKey: wrapped}, nil
}

// Open unwraps the data key and decrypts the secret.
func (k *Keyring) Open(s Sealed) (string, error) {
	if !k.Enabled() {
		return "", ErrMasterKeyNotSet
	}

	dataKey, err := decrypt(k.master, s.WrappedKey)
	if err != nil {
		return "", fmt.Errorf("unwrap data key: %w", err)
	}
	plaintext, err := decrypt(dataKey, s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// encrypt produces base64(nonce || ciphertext || tag) with AES-256-GCM.
func encrypt(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func decrypt(key []byte, encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
