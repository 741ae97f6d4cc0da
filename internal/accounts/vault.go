package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// KeyVault seals ledger private keys at rest with a service-wide key
type KeyVault struct {
	key [32]byte
}

// NewKeyVault derives the sealing key from secret
func NewKeyVault(secret string) (*KeyVault, error) {
	if secret == "" {
		return nil, errors.New("key encryption key is required")
	}
	return &KeyVault{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts plaintext as nonce || box
func (v *KeyVault) Seal(plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key), nil
}

// Open decrypts a value produced by Seal
func (v *KeyVault) Open(sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed key is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", errors.New("sealed key failed authentication")
	}
	return string(plaintext), nil
}
