package blobstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/peerkeeper/internal/filex"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
)

// FS stores avatars under <base>/<owner>/avatars/<subject>.
type FS struct {
	base   string
	logger logging.Logger
}

func NewFS(base string, logger logging.Logger) *FS {
	return &FS{base: base, logger: logger.With("module", "blobstore")}
}

func (s *FS) WriteAvatar(ctx context.Context, owner, subject string, data []byte) error {
	if err := validName(owner); err != nil {
		return err
	}
	if err := validName(subject); err != nil {
		return err
	}

	dir, err := filex.EnsureSubDir(filepath.Join(s.base, owner), avatarsDir)
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(filepath.Join(dir, subject), data, 0o600)
}

func (s *FS) ReadAvatar(ctx context.Context, owner, subject string) []byte {
	if validName(owner) != nil || validName(subject) != nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.base, owner, avatarsDir, subject))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(ctx, "avatar read failed", "owner", owner, "subject", subject, "error", err)
		}
		return nil
	}
	return data
}
