package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Cipher turns card numbers into opaque tokens and keyed fingerprints.
// Tokens are AES-GCM sealed with a random nonce, so the same number never
// encrypts to the same token; Fingerprint is the deterministic lookup key.
type Cipher struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewCipher builds a Cipher from a hex-encoded AES key (16, 24 or 32 bytes) and an HMAC secret
func NewCipher(encryptionKeyHex, hmacSecret string) (*Cipher, error) {
	key, err := hex.DecodeString(encryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if hmacSecret == "" {
		return nil, fmt.Errorf("hmac secret is empty")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead, hmacKey: []byte(hmacSecret)}, nil
}

// Encrypt seals data and returns hex(nonce || ciphertext)
func (c *Cipher) Encrypt(data string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("input data is empty")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(data), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *Cipher) Decrypt(token string) (string, error) {
	if len(token) == 0 {
		return "", fmt.Errorf("encrypted data is empty")
	}

	data, err := hex.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) <= nonceSize {
		return "", fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Fingerprint returns the HMAC-SHA256 of a card number, hex encoded
func (c *Cipher) Fingerprint(number string) string {
	h := hmac.New(sha256.New, c.hmacKey)
	h.Write([]byte(number))
	return hex.EncodeToString(h.Sum(nil))
}
