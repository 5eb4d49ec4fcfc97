package devices

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenConsensus(context.Background(), t.TempDir(), "gid")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInsertAndList(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	d1 := &models.Device{Name: "laptop", Info: "linux", Addr: "peer-a", Datetime: 1}
	d2 := &models.Device{Name: "phone", Addr: "peer-b", Height: 3, Datetime: 2}
	require.NoError(t, r.Insert(ctx, d1))
	require.NoError(t, r.Insert(ctx, d2))
	assert.NotZero(t, d1.ID)

	// same address refreshes name and info only
	d3 := &models.Device{Name: "laptop2", Info: "mac", Addr: "peer-a", Height: 99, Datetime: 9}
	require.NoError(t, r.Insert(ctx, d3))
	assert.Equal(t, d1.ID, d3.ID)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "laptop2", list[0].Name)
	assert.Equal(t, "mac", list[0].Info)
	assert.Equal(t, uint64(0), list[0].Height)
	assert.Equal(t, "phone", list[1].Name)
	assert.Empty(t, list[1].Info)
}

func TestDistributesAndUpdateHeight(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, &models.Device{Name: "a", Addr: "peer-a"}))
	require.NoError(t, r.Insert(ctx, &models.Device{Name: "b", Addr: "peer-b"}))

	require.NoError(t, r.UpdateHeight(ctx, "peer-a", 5))
	// lower height is ignored
	require.NoError(t, r.UpdateHeight(ctx, "peer-a", 2))

	got, err := r.Distributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"peer-a": 5, "peer-b": 0}, got)
}

func TestDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, &models.Device{Name: "a", Addr: "peer-a"}))
	require.NoError(t, r.Delete(ctx, "peer-a"))
	require.ErrorIs(t, r.Delete(ctx, "peer-a"), common.ErrNotFound)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
