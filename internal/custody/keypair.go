package custody

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "peerkeeper/identity/v1"

// Keypair is an identity's ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// DeriveKeypair deterministically derives the keypair for the given recovery
// phrase, derivation index and optional BIP-39 passphrase.
//
// English phrases are checksum-validated; phrases in other languages are only
// normalized, because the BIP-39 seed itself does not depend on the wordlist.
func DeriveKeypair(mnemonic string, index uint32, lang models.Language, passphrase string) (Keypair, error) {
	if mnemonic == "" {
		return Keypair{}, fmt.Errorf("%w: empty mnemonic", common.ErrDecode)
	}

	var seed []byte
	if lang == models.LangEnglish {
		s, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
		if err != nil {
			return Keypair{}, fmt.Errorf("%w: mnemonic: %v", common.ErrDecode, err)
		}
		seed = s
	} else {
		seed = bip39.NewSeed(mnemonic, passphrase)
	}
	defer common.WipeByteArray(seed)

	info := make([]byte, 4)
	binary.BigEndian.PutUint32(info, index)

	edSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, []byte(derivationSalt), info), edSeed); err != nil {
		return Keypair{}, fmt.Errorf("derive key: %w", err)
	}
	defer common.WipeByteArray(edSeed)

	return Keypair{private: ed25519.NewKeyFromSeed(edSeed)}, nil
}

// NewMnemonic returns a fresh 24-word English recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// KeypairFromBytes restores a keypair from the seed returned by Bytes.
func KeypairFromBytes(b []byte) (Keypair, error) {
	if len(b) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("%w: secret has %d bytes", common.ErrDecode, len(b))
	}
	return Keypair{private: ed25519.NewKeyFromSeed(b)}, nil
}

// Bytes returns the 32-byte private seed.
func (k Keypair) Bytes() []byte {
	return k.private.Seed()
}

func (k Keypair) IsZero() bool {
	return len(k.private) == 0
}

func (k Keypair) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// PrivateKey exposes the signing key for the transport boundary.
func (k Keypair) PrivateKey() ed25519.PrivateKey {
	return k.private
}

// PublicID is the identity's network-wide identifier.
func (k Keypair) PublicID() string {
	return hex.EncodeToString(k.Public())
}

func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// PublicKeyFromID parses a public identifier back into a verification key.
func PublicKeyFromID(id string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: public id: %v", common.ErrDecode, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public id has %d bytes", common.ErrDecode, len(b))
	}
	return ed25519.PublicKey(b), nil
}
