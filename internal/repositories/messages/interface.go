// Package messages persists group messages.
package messages

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

type Repository interface {
	// Insert stores m and sets m.ID. A second message at the same group
	// height is rejected by the store.
	Insert(ctx context.Context, m *models.Message) error

	// List returns a group's messages in height order.
	List(ctx context.Context, groupID int64) ([]models.Message, error)
}
