// Package common defines shared constants and sentinel errors used across
// the custody, presence and consensus layers of peerkeeper. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// ErrNotFound is returned when an identity, group, member or device is absent.
	ErrNotFound = errors.New("not found")

	// ErrAuth is returned when a PIN does not match the stored lock.
	ErrAuth = errors.New("lock is invalid")

	// ErrDecode covers corrupt ciphertext, malformed stored bytes and bad
	// hex/base64/CBOR input.
	ErrDecode = errors.New("decode error")

	// ErrState is returned when an action is invalid for the current
	// authority mode or membership state.
	ErrState = errors.New("invalid state")

	// ErrPeerUnreachable marks a best-effort send whose target is offline.
	// It never fails the overall operation.
	ErrPeerUnreachable = errors.New("peer unreachable")
)
