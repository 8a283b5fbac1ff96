package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted objects are laid out as magic(8) + salt(16) + nonce(12) + ciphertext with GCM tag.
var magic = []byte("GCM3NCR0")

const (
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	kdfRounds  = 100000
	headerSize = 8 + saltSize + nonceSize
)

var ErrPasswordRequired = errors.New("object is encrypted; password required")

// IsEncrypted reports whether data starts with the encryption header.
func IsEncrypted(data []byte) bool {
	return len(data) >= headerSize+tagSize && bytes.Equal(data[:8], magic)
}

// Seal encrypts data with a key derived from password.
func Seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(data)+tagSize)
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open decrypts data produced by Seal.
func Open(data []byte, password string) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, fmt.Errorf("GCM data too short or missing header: %d bytes", len(data))
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	salt := data[8 : 8+saltSize]
	nonce := data[8+saltSize : headerSize]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
