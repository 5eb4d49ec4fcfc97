// Package devices persists the own-device roster of one identity.
package devices

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

// Repository describes operations on the devices table.
type Repository interface {
	// Insert adds a device or refreshes the name and info of a known address.
	// d.ID is set on return.
	Insert(ctx context.Context, d *models.Device) error

	List(ctx context.Context) ([]models.Device, error)

	// Distributes returns the last acknowledged height of every device keyed
	// by address.
	Distributes(ctx context.Context) (map[string]uint64, error)

	// UpdateHeight raises the stored height of the device at addr. Lower or
	// equal heights are ignored.
	UpdateHeight(ctx context.Context, addr string, height uint64) error

	Delete(ctx context.Context, addr string) error
}
