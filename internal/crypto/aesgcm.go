// Package crypto encrypts Deployment secrets (channelToken, llmApiKey) at
// rest. No library in the reference corpus wraps AES-256-GCM in the exact
// ivHex:ciphertextHex:authTagHex layout spec.md §6 mandates — the corpus's
// own encryption example (x/encryption/crypto) builds on NaCl box instead of
// an AEAD with a detached tag — so this is built directly on crypto/aes and
// crypto/cipher, the standard construction for that primitive.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keySize   = 32 // AES-256
	ivSize    = 12 // GCM standard nonce size
	tagSize   = 16
)

// Box encrypts and decrypts Deployment secrets with a single 32-byte key
// loaded once at startup from the hex-encoded CREDENTIAL_ENCRYPTION_KEY_HEX.
type Box struct {
	key []byte
}

func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", keySize, len(key))
	}
	return &Box{key: key}, nil
}

// Encrypt returns ivHex:ciphertextHex:authTagHex. A fresh random IV is
// drawn on every call, so encrypting the same plaintext twice never yields
// the same string (spec.md §8 invariant 5).
func (b *Box) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(ciphertext), hex.EncodeToString(tag)), nil
}

// Decrypt inverts Encrypt. Returns an error if the authentication tag does
// not verify, which also covers truncation/corruption of any of the three
// parts.
func (b *Box) Decrypt(encoded string) (string, error) {
	parts := strings.SplitN(encoded, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("crypto: malformed ciphertext")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed ciphertext: %w", err)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed auth tag: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", err
	}
	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// LookupHash returns a deterministic HMAC-SHA256 of plaintext, hex-encoded.
// Encrypt's output is never equal across two calls on the same plaintext
// (fresh random IV every time), so duplicate-detection queries must compare
// this keyed hash instead of the ciphertext itself.
func (b *Box) LookupHash(plaintext string) string {
	mac := hmac.New(sha256.New, b.key)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
