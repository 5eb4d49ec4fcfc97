// Package accounts persists local identities in the node-wide account store.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/google/uuid"
)

// Repository describes CRUD operations on Account rows.
type Repository interface {
	// Get returns the account with the given public id or common.ErrNotFound.
	Get(ctx context.Context, gid string) (*models.Account, error)

	// All returns every account, newest first.
	All(ctx context.Context) ([]models.Account, error)

	// Insert stores a new account, or refreshes the stored one when the
	// public id is already known. acc.ID is set on return.
	Insert(ctx context.Context, acc *models.Account) error

	// UpdateLock replaces the PIN lock, the salt and the wrapped content key
	// in a single statement.
	UpdateLock(ctx context.Context, acc *models.Account) error

	// UpdateInfo stores the public profile fields.
	UpdateInfo(ctx context.Context, acc *models.Account) error

	// UpdateConsensus records the last own height and the event that produced it.
	UpdateConsensus(ctx context.Context, id int64, height uint64, event uuid.UUID) error

	Delete(ctx context.Context, id int64) error
}
