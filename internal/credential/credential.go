// Package credential seals account credentials at rest with NaCl secretbox.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/DukeRupert/streamshare/internal/domain"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrDecrypt is returned when a sealed blob cannot be opened with the key.
var ErrDecrypt = errors.New("credential: decryption failed")

// Sealer encrypts and decrypts credential blobs.
type Sealer struct {
	key [keySize]byte
}

// NewSealer creates a Sealer from a hex-encoded 32-byte key.
func NewSealer(hexKey string) (*Sealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the output.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// SealCredentials encodes and encrypts account credentials.
func (s *Sealer) SealCredentials(c domain.AccountCredentials) ([]byte, error) {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return s.Seal(plaintext)
}

// OpenCredentials decrypts and decodes account credentials.
func (s *Sealer) OpenCredentials(sealed []byte) (domain.AccountCredentials, error) {
	var c domain.AccountCredentials
	plaintext, err := s.Open(sealed)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return c, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}
