// Package groups persists group chats known to one identity.
package groups

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

// Repository describes operations on group rows.
type Repository interface {
	// Create inserts a new group and sets g.ID.
	Create(ctx context.Context, g *models.Group) error

	// Get returns the group with row id or common.ErrNotFound.
	Get(ctx context.Context, id int64) (*models.Group, error)

	// GetByGID looks a group up by its network-wide id.
	GetByGID(ctx context.Context, gid string) (*models.Group, error)

	// All returns every group, most recently created first.
	All(ctx context.Context) ([]models.Group, error)

	UpdateName(ctx context.Context, id int64, name string) error
	UpdateAvatar(ctx context.Context, id int64, avatar []byte) error

	// UpdateHeight raises the stored height. A height lower than or equal to
	// the stored one is a no-op, so concurrent writers can never move it back.
	UpdateHeight(ctx context.Context, id int64, height uint64) error

	// Delete removes the group together with its members and messages.
	Delete(ctx context.Context, id int64) error
}
