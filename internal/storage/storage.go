// Package storage lays out and opens the embedded SQLite stores of a node.
//
// Layout under the data directory:
//
//	account.db            identities (accounts table)
//	<gid>/consensus.db    own devices of identity <gid>
//	<gid>/group.db        groups, members and messages of identity <gid>
//	<gid>/avatars/        avatar blobs (see package blobstore)
//
// Each schema is an ordered, append-only list of goose migrations embedded in
// the binary and applied on open.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/account/*.sql migrations/consensus/*.sql migrations/group/*.sql
var migrations embed.FS

// Schema names one migration set.
type Schema string

const (
	SchemaAccount   Schema = "account"
	SchemaConsensus Schema = "consensus"
	SchemaGroup     Schema = "group"
)

const (
	AccountDB   = "account.db"
	ConsensusDB = "consensus.db"
	GroupDB     = "group.db"
)

// IdentityDir is the per-identity directory under base.
func IdentityDir(base, gid string) string {
	return filepath.Join(base, gid)
}

// OpenAccounts opens the node-wide identity store.
func OpenAccounts(ctx context.Context, base string) (*sql.DB, error) {
	return Open(ctx, filepath.Join(base, AccountDB), SchemaAccount)
}

// OpenConsensus opens the device store of identity gid.
func OpenConsensus(ctx context.Context, base, gid string) (*sql.DB, error) {
	return Open(ctx, filepath.Join(IdentityDir(base, gid), ConsensusDB), SchemaConsensus)
}

// OpenGroups opens the group store of identity gid.
func OpenGroups(ctx context.Context, base, gid string) (*sql.DB, error) {
	return Open(ctx, filepath.Join(IdentityDir(base, gid), GroupDB), SchemaGroup)
}

// Open creates the parent directory if needed, opens the SQLite file at path
// and brings it up to the latest version of schema.
func Open(ctx context.Context, path string, schema Schema) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := dbx.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies all pending migrations of schema to db.
func Migrate(ctx context.Context, db *sql.DB, schema Schema) error {
	fsys, err := fs.Sub(migrations, "migrations/"+string(schema))
	if err != nil {
		return fmt.Errorf("migrations %s: %w", schema, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider %s: %w", schema, err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", schema, err)
	}
	return nil
}
