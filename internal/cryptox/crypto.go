// Package cryptox wraps the primitives used by key custody: argon2id for
// PIN-derived wrapping keys, bcrypt for the PIN lock hash, and AES-256-GCM
// for sealing the content key and the secrets it protects.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// KeySize is the length of every symmetric key handled here (AES-256).
const KeySize = 32

// SaltSize is the length of the per-identity argon2 salt.
const SaltSize = 16

// DeriveWrappingKey stretches a PIN into a 32-byte key with argon2id.
// The same PIN and salt always produce the same key.
func DeriveWrappingKey(pin []byte, salt []byte) []byte {
	return argon2.IDKey(pin, salt, 1, 64*1024, 4, KeySize)
}

// HashPin returns a salted bcrypt hash of pin suitable for storing as a lock.
func HashPin(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(h), nil
}

// CheckPin reports whether pin matches the stored lock hash.
//
// A malformed lock is reported as common.ErrDecode, a mismatch as
// common.ErrAuth.
func CheckPin(pin string, lock string) error {
	err := bcrypt.CompareHashAndPassword([]byte(lock), []byte(pin))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return common.ErrAuth
	default:
		return fmt.Errorf("%w: lock hash: %v", common.ErrDecode, err)
	}
}

// Seal encrypts plaintext with AES-GCM under key. A fresh random nonce is
// generated for each call and prepended to the returned ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. Any failure, including a truncated blob or a wrong key,
// is reported as common.ErrDecode.
func Open(key, sealed []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := aesgcm.NonceSize()
	if len(sealed) < ns+aesgcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", common.ErrDecode, len(sealed))
	}

	plaintext, err := aesgcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	return aesgcm, nil
}
