package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrShortCiphertext is returned when the payload is smaller than a nonce.
var ErrShortCiphertext = errors.New("ciphertext too short")

// Cipher seals values with AES-GCM. A nil *Cipher passes values through
// unchanged, so callers don't need to branch on whether a key is configured.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a base64-encoded 32 byte key (TBOT_MASTER_KEY).
// An empty key returns a nil Cipher.
func New(keyB64 string) (*Cipher, error) {
	if keyB64 == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Enabled reports whether values are actually encrypted.
func (c *Cipher) Enabled() bool { return c != nil }

// Encrypt returns a base64 ciphertext of the provided plaintext.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if c == nil {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt converts a base64 ciphertext back to plaintext.
func (c *Cipher) Decrypt(ciphertextB64 string) (string, error) {
	if c == nil {
		return ciphertextB64, nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrShortCiphertext
	}
	nonce, ct := data[:nonceSize], data[nonceSize:]
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
