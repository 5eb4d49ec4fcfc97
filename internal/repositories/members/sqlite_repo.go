package members

import (
	"context"
	"database/sql"
	"errors"
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

func (r *SQLiteRepository) Insert(ctx context.Context, m *models.Member) error {
	query := `INSERT INTO members (fid, mid, addr, name, height, datetime) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fid, mid) DO UPDATE SET addr = excluded.addr, name = excluded.name, height = excluded.height
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query, m.GroupID, m.MemberID, m.Addr, m.Name, m.Height, m.Datetime).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, groupID int64) ([]models.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fid, mid, addr, name, height, datetime FROM members WHERE fid = ? ORDER BY height, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to select members: %w", err)
	}
	defer rows.Close()

	var result []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.GroupID, &m.MemberID, &m.Addr, &m.Name, &m.Height, &m.Datetime); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, groupID int64, memberID string) (*models.Member, error) {
	var m models.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, fid, mid, addr, name, height, datetime FROM members WHERE fid = ? AND mid = ?`, groupID, memberID).
		Scan(&m.ID, &m.GroupID, &m.MemberID, &m.Addr, &m.Name, &m.Height, &m.Datetime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", memberID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (r *SQLiteRepository) UpdateHeight(ctx context.Context, groupID int64, memberID string, height uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET height = ? WHERE fid = ? AND mid = ? AND height < ?`, height, groupID, memberID, height)
	if err != nil {
		return fmt.Errorf("failed to update member height: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, groupID int64, memberID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE fid = ? AND mid = ?`, groupID, memberID)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("member %s: %w", memberID, common.ErrNotFound)
	}
	return nil
}
