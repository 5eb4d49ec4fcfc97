package devices

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, d *models.Device) error {
	query := `INSERT INTO devices (name, info, addr, height, datetime) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(addr) DO UPDATE SET name = excluded.name, info = excluded.info
		RETURNING id`

	if err := r.db.QueryRowContext(ctx, query, d.Name, d.Info, d.Addr, d.Height, d.Datetime).Scan(&d.ID); err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, info, addr, height, datetime FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select devices: %w", err)
	}
	defer rows.Close()

	var result []models.Device
	for rows.Next() {
		var (
			d    models.Device
			info sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Name, &info, &d.Addr, &d.Height, &d.Datetime); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		d.Info = info.String
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Distributes(ctx context.Context) (map[string]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT addr, height FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("failed to select device heights: %w", err)
	}
	defer rows.Close()

	result := make(map[string]uint64)
	for rows.Next() {
		var (
			addr   string
			height uint64
		)
		if err := rows.Scan(&addr, &height); err != nil {
			return nil, fmt.Errorf("failed to scan device height: %w", err)
		}
		result[addr] = height
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device heights: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) UpdateHeight(ctx context.Context, addr string, height uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET height = ? WHERE addr = ? AND height < ?`, height, addr, height)
	if err != nil {
		return fmt.Errorf("failed to update device height: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, addr string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE addr = ?`, addr)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", addr, common.ErrNotFound)
	}
	return nil
}
