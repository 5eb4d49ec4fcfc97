package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

const selectColumns = `SELECT id, gid, owner, name, avatar, is_local, height, datetime FROM group_chats`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(s scanner) (*models.Group, error) {
	var (
		g      models.Group
		avatar []byte
		local  sql.NullInt64
	)
	if err := s.Scan(&g.ID, &g.GID, &g.Owner, &g.Name, &avatar, &local, &g.Height, &g.Datetime); err != nil {
		return nil, err
	}
	g.Avatar = avatar
	g.Local = local.Int64 == 1
	return &g, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, g *models.Group) error {
	query := `INSERT INTO group_chats (gid, owner, name, avatar, is_local, height, datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`

	local := 0
	if g.Local {
		local = 1
	}
	err := r.db.QueryRowContext(ctx, query, g.GID, g.Owner, g.Name, g.Avatar, local, g.Height, g.Datetime).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (r *SQLiteRepository) GetByGID(ctx context.Context, gid string) (*models.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, selectColumns+` WHERE gid = ?`, gid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", gid, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]models.Group, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY datetime DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select groups: %w", err)
	}
	defer rows.Close()

	var result []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		result = append(result, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) UpdateName(ctx context.Context, id int64, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_chats SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("failed to update group name: %w", err)
	}
	return expectOne(res, id)
}

func (r *SQLiteRepository) UpdateAvatar(ctx context.Context, id int64, avatar []byte) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_chats SET avatar = ? WHERE id = ?`, avatar, id)
	if err != nil {
		return fmt.Errorf("failed to update group avatar: %w", err)
	}
	return expectOne(res, id)
}

func (r *SQLiteRepository) UpdateHeight(ctx context.Context, id int64, height uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE group_chats SET height = ? WHERE id = ? AND height < ?`, height, id, height)
	if err != nil {
		return fmt.Errorf("failed to update group height: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id int64) error {
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", id, common.ErrNotFound)
	}
	return nil
}
