// Package telegram implements the platform client pool on MTProto via gotd.
//
// It owns one logical client per usable session, translates raw platform
// failures into the domain error taxonomy, and is the only package allowed to
// open session credential blobs.
package telegram

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

const sealNonceSize = 24

// Sealer encrypts session credential blobs at rest with a process-wide key.
// Everything outside this package sees only sealed bytes.
type Sealer struct {
	key    [32]byte
	hasKey bool
}

// NewSealer parses a 64-char hex key. An empty key is allowed for dev and
// makes Seal/Open pass data through unchanged.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return &Sealer{}, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("op=telegram.NewSealer: key must be 32 bytes hex: %w", domain.ErrInvalidArgument)
	}
	var s Sealer
	copy(s.key[:], raw)
	s.hasKey = true
	return &s, nil
}

// Seal encrypts plaintext; the nonce is prepended to the box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		return plaintext, nil
	}
	var nonce [sealNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("op=telegram.Seal: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a sealed blob produced by Seal.
func (s *Sealer) Open(box []byte) ([]byte, error) {
	if !s.hasKey {
		return box, nil
	}
	if len(box) < sealNonceSize {
		return nil, fmt.Errorf("op=telegram.Open: blob too short: %w", domain.ErrInvalidArgument)
	}
	var nonce [sealNonceSize]byte
	copy(nonce[:], box[:sealNonceSize])
	plain, ok := secretbox.Open(nil, box[sealNonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("op=telegram.Open: seal mismatch: %w", domain.ErrInvalidArgument)
	}
	return plain, nil
}
