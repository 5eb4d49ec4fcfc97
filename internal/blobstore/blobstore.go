// Package blobstore keeps avatar images outside the SQLite stores.
//
// Blobs are addressed by the owning identity and a subject (an identity or a
// group id). Storage is best-effort: a failed or missing read yields an empty
// avatar instead of an error.
package blobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
)

// Store reads and writes avatars.
type Store interface {
	WriteAvatar(ctx context.Context, owner, subject string, data []byte) error

	// ReadAvatar returns the stored avatar or nil when none can be read.
	ReadAvatar(ctx context.Context, owner, subject string) []byte
}

const avatarsDir = "avatars"

// validName rejects ids that could escape the owner's namespace.
func validName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid blob name %q: %w", s, common.ErrDecode)
	}
	return nil
}
var (
	_ Store = (*FS)(nil)
	_ Store = (*S3)(nil)
)
