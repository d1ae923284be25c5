package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
)

// Vault provides authenticated encryption for private-key material at rest.
// Blobs are encoded as hex(iv):hex(authTag):hex(ciphertext) so decryption can
// reject truncated input before any cryptographic work. Any bit flip in a
// blob makes Decrypt fail closed; corrupted plaintext is never returned.
type Vault struct {
	key []byte
}

// NewVault parses a hex-encoded 32-byte AES-256 key. An empty key is allowed
// at construction (development without encryption configured); Encrypt and
// Decrypt then fail with a configuration error.
func NewVault(hexKey string) (*Vault, error) {
	if hexKey == "" {
		return &Vault{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex chars)")
	}
	return &Vault{key: key}, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if len(v.key) == 0 {
		return nil, apperrors.Configuration("encryption key is not configured")
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "create GCM", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext and returns the colon-delimited blob.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "generate iv", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// Seal appends the auth tag; split it out so the blob keeps the three
	// fields separate.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt opens a blob produced by Encrypt. Structural problems surface as
// MalformedBlob before any cryptographic verification; authentication
// failures surface as DecryptionFailed.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, apperrors.MalformedBlob(fmt.Errorf("expected 3 colon-delimited fields, got %d", len(parts)))
	}
	// The ciphertext field may legitimately be empty: sealing empty
	// plaintext yields only an auth tag.
	if parts[0] == "" {
		return nil, apperrors.MalformedBlob(fmt.Errorf("iv is empty"))
	}
	if parts[1] == "" {
		return nil, apperrors.MalformedBlob(fmt.Errorf("auth tag is empty"))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, apperrors.MalformedBlob(fmt.Errorf("decode iv: %w", err))
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, apperrors.MalformedBlob(fmt.Errorf("decode auth tag: %w", err))
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, apperrors.MalformedBlob(fmt.Errorf("decode ciphertext: %w", err))
	}

	if len(iv) != gcm.NonceSize() {
		return nil, apperrors.MalformedBlob(fmt.Errorf("iv must be %d bytes, got %d", gcm.NonceSize(), len(iv)))
	}
	if len(tag) != gcm.Overhead() {
		return nil, apperrors.MalformedBlob(fmt.Errorf("auth tag must be %d bytes, got %d", gcm.Overhead(), len(tag)))
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, apperrors.DecryptionFailed(err)
	}
	return plaintext, nil
}
