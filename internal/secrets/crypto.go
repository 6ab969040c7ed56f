package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	keySize = 32 // AES-256
	ivSize  = 12 // GCM standard nonce size
	tagSize = 16 // GCM authentication tag
)

// seal encrypts plaintext with AES-256-GCM under key, using a fresh random
// IV. The GCM tag is split off the sealed output so ciphertext, IV, and tag
// are stored as the three distinct fields the audit model requires.
func seal(key, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	if len(key) != keySize {
		return nil, nil, nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("secrets: gcm init: %w", err)
	}

	iv = make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("secrets: iv generation: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagSize]
	tag = sealed[len(sealed)-tagSize:]
	return ciphertext, iv, tag, nil
}

// open decrypts ciphertext+tag with AES-256-GCM. Any authentication failure
// (corrupted ciphertext, wrong tag, wrong key) returns ErrIntegrity.
func open(key, ciphertext, iv, tag []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", keySize, len(key))
	}
	if len(iv) != ivSize || len(tag) != tagSize {
		return nil, ErrIntegrity
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm init: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
