// Package members persists group membership.
package members

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

type Repository interface {
	// Insert adds m to its group and sets m.ID. Re-admitting a known member
	// refreshes its address, name and admission height.
	Insert(ctx context.Context, m *models.Member) error

	// List returns the members of a group ordered by admission.
	List(ctx context.Context, groupID int64) ([]models.Member, error)

	// Get returns one member by public id or common.ErrNotFound.
	Get(ctx context.Context, groupID int64, memberID string) (*models.Member, error)

	// UpdateHeight records the last height delivered to a member. It never
	// lowers the stored height.
	UpdateHeight(ctx context.Context, groupID int64, memberID string, height uint64) error

	Delete(ctx context.Context, groupID int64, memberID string) error
}
