// Package models defines the persisted records of a peerkeeper node:
// local identities, own devices, groups with their members and messages.
package models

import "github.com/google/uuid"

// Language is the BIP-39 wordlist a recovery phrase was written in.
type Language int64

const (
	LangEnglish Language = iota
	LangSimplifiedChinese
	LangTraditionalChinese
	LangCzech
	LangFrench
	LangItalian
	LangJapanese
	LangKorean
	LangSpanish
	LangPortuguese
)

// LanguageFromInt maps a stored value to a Language, falling back to English
// for anything unknown.
func LanguageFromInt(v int64) Language {
	if v < int64(LangEnglish) || v > int64(LangPortuguese) {
		return LangEnglish
	}
	return Language(v)
}

// Account is one local identity. Secret material is stored only in sealed form.
type Account struct {
	// ID is the local row id.
	ID int64
	// GID is the public identifier: hex of the ed25519 public key.
	GID string
	// Index is the derivation index used with the recovery phrase.
	Index int64
	Lang  Language
	Name  string

	// Lock is the bcrypt hash of the PIN.
	Lock string
	// Salt feeds the argon2 derivation of the PIN wrapping key.
	Salt []byte
	// Mnemonic and Secret are sealed under the content key.
	Mnemonic []byte
	Secret   []byte
	// Encrypt is the content key sealed under the PIN wrapping key.
	Encrypt []byte

	Avatar []byte
	Wallet string

	// PubHeight versions the public profile (name, avatar, wallet).
	PubHeight int64
	// OwnHeight is the last height minted for this identity's device log.
	OwnHeight uint64
	// Event identifies the event that produced OwnHeight.
	Event uuid.UUID

	Datetime int64
}

// User is the public profile of an identity as shared with peers.
type User struct {
	GID    string
	Addr   string
	Name   string
	Wallet string
	Height int64
	Avatar []byte
}

// ToUser projects the shareable part of the account.
func (a *Account) ToUser(addr string) User {
	return User{
		GID:    a.GID,
		Addr:   addr,
		Name:   a.Name,
		Wallet: a.Wallet,
		Height: a.PubHeight,
		Avatar: a.Avatar,
	}
}

// ToRPC renders the non-secret fields for UI listings.
func (a *Account) ToRPC() []any {
	return []any{a.GID, a.Name, a.Lang, a.Wallet, a.PubHeight, a.Datetime}
}
