// Package custody generates identities and keeps their secrets encrypted at
// rest behind a PIN.
//
// A random content key seals the recovery phrase and the private key. The
// content key itself is sealed under a key derived from the PIN, so changing
// the PIN only rewrites the small wrapped key and the lock hash.
package custody

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/cryptox"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

// GenerateParams describes a new identity.
type GenerateParams struct {
	Mnemonic   string
	Index      uint32
	Lang       models.Language
	Passphrase string
	Pin        string
	Name       string
	Avatar     []byte
}

// Generate derives the keypair, seals the phrase and the private key under a
// fresh content key, and wraps the content key under the PIN. It returns the
// record to persist and the live keypair so the caller can use it right away.
func Generate(p GenerateParams) (*models.Account, Keypair, error) {
	kp, err := DeriveKeypair(p.Mnemonic, p.Index, p.Lang, p.Passphrase)
	if err != nil {
		return nil, Keypair{}, err
	}

	contentKey := common.GenerateRandByteArray(cryptox.KeySize)
	defer common.WipeByteArray(contentKey)

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	encrypt, err := wrapContentKey(p.Pin, salt, contentKey)
	if err != nil {
		return nil, Keypair{}, err
	}

	secret, err := cryptox.Seal(contentKey, kp.Bytes())
	if err != nil {
		return nil, Keypair{}, fmt.Errorf("seal secret: %w", err)
	}
	mnemonic, err := cryptox.Seal(contentKey, []byte(p.Mnemonic))
	if err != nil {
		return nil, Keypair{}, fmt.Errorf("seal mnemonic: %w", err)
	}

	lock, err := cryptox.HashPin(p.Pin)
	if err != nil {
		return nil, Keypair{}, err
	}

	acc := &models.Account{
		GID:       kp.PublicID(),
		Index:     int64(p.Index),
		Lang:      p.Lang,
		Name:      p.Name,
		Lock:      lock,
		Salt:      salt,
		Mnemonic:  mnemonic,
		Secret:    secret,
		Encrypt:   encrypt,
		Avatar:    p.Avatar,
		PubHeight: 1,
		Datetime:  time.Now().Unix(),
	}
	return acc, kp, nil
}

// CheckLock authenticates pin against the account lock.
func CheckLock(acc *models.Account, pin string) error {
	return cryptox.CheckPin(pin, acc.Lock)
}

// Unlock authenticates pin and returns the clear content key. The caller owns
// the returned slice and should wipe it when the session ends.
func Unlock(acc *models.Account, pin string) ([]byte, error) {
	if err := CheckLock(acc, pin); err != nil {
		return nil, err
	}
	return unwrapContentKey(pin, acc.Salt, acc.Encrypt)
}

// ChangePin re-authenticates with oldPin and returns a copy of acc whose
// content key is wrapped under newPin. acc itself is never modified, so a
// failure at any step leaves the caller's record as it was.
func ChangePin(acc *models.Account, oldPin, newPin string) (*models.Account, error) {
	contentKey, err := Unlock(acc, oldPin)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(contentKey)

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	encrypt, err := wrapContentKey(newPin, salt, contentKey)
	if err != nil {
		return nil, err
	}
	lock, err := cryptox.HashPin(newPin)
	if err != nil {
		return nil, err
	}

	updated := *acc
	updated.Lock = lock
	updated.Salt = salt
	updated.Encrypt = encrypt
	return &updated, nil
}

// RevealMnemonic authenticates and decrypts the recovery phrase.
func RevealMnemonic(acc *models.Account, pin string) (string, error) {
	plain, err := open(acc, pin, acc.Mnemonic)
	if err != nil {
		return "", fmt.Errorf("mnemonic: %w", err)
	}
	return string(plain), nil
}

// RevealSecret authenticates, decrypts the private key and checks that it
// still matches the account's public identifier.
func RevealSecret(acc *models.Account, pin string) (Keypair, error) {
	plain, err := open(acc, pin, acc.Secret)
	if err != nil {
		return Keypair{}, fmt.Errorf("secret: %w", err)
	}
	defer common.WipeByteArray(plain)

	kp, err := KeypairFromBytes(plain)
	if err != nil {
		return Keypair{}, err
	}
	if kp.PublicID() != acc.GID {
		return Keypair{}, fmt.Errorf("%w: secret does not match identity", common.ErrDecode)
	}
	return kp, nil
}

// OpenWithKey decrypts a sealed field with an already unlocked content key.
func OpenWithKey(contentKey, sealed []byte) ([]byte, error) {
	return cryptox.Open(contentKey, sealed)
}

func open(acc *models.Account, pin string, sealed []byte) ([]byte, error) {
	contentKey, err := Unlock(acc, pin)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(contentKey)
	return cryptox.Open(contentKey, sealed)
}

func wrapContentKey(pin string, salt, contentKey []byte) ([]byte, error) {
	wk := cryptox.DeriveWrappingKey([]byte(pin), salt)
	defer common.WipeByteArray(wk)

	encrypt, err := cryptox.Seal(wk, contentKey)
	if err != nil {
		return nil, fmt.Errorf("wrap content key: %w", err)
	}
	return encrypt, nil
}

func unwrapContentKey(pin string, salt, encrypt []byte) ([]byte, error) {
	if len(salt) == 0 || len(encrypt) == 0 {
		return nil, fmt.Errorf("%w: wrapped key missing", common.ErrDecode)
	}
	wk := cryptox.DeriveWrappingKey([]byte(pin), salt)
	defer common.WipeByteArray(wk)

	key, err := cryptox.Open(wk, encrypt)
	if err != nil {
		return nil, fmt.Errorf("unwrap content key: %w", err)
	}
	if len(key) != cryptox.KeySize || bytes.Equal(key, make([]byte, cryptox.KeySize)) {
		return nil, fmt.Errorf("%w: content key malformed", common.ErrDecode)
	}
	return key, nil
}
