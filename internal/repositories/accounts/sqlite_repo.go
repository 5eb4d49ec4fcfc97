package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/google/uuid"
)

const selectColumns = `SELECT id, gid, indx, lang, name, lock, salt, mnemonic, secret, encrypt, avatar, wallet, pub_height, own_height, event, datetime FROM accounts`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanAccount decodes one row positionally. Optional columns that are NULL or
// unparsable fall back to empty values instead of failing the read.
func scanAccount(s scanner) (*models.Account, error) {
	var (
		a      models.Account
		lang   int64
		wallet sql.NullString
		event  sql.NullString
	)
	err := s.Scan(&a.ID, &a.GID, &a.Index, &lang, &a.Name, &a.Lock,
		&a.Salt, &a.Mnemonic, &a.Secret, &a.Encrypt, &a.Avatar,
		&wallet, &a.PubHeight, &a.OwnHeight, &event, &a.Datetime)
	if err != nil {
		return nil, err
	}

	a.Lang = models.LanguageFromInt(lang)
	a.Wallet = wallet.String
	if id, err := uuid.Parse(event.String); err == nil {
		a.Event = id
	}
	return &a, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, gid string) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE gid = ?`, gid)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", gid, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY datetime DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}
	defer rows.Close()

	var result []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.Account) error {
	query := `INSERT INTO accounts (gid, indx, lang, name, lock, salt, mnemonic, secret, encrypt, avatar, wallet, pub_height, own_height, event, datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(gid) DO UPDATE SET name = excluded.name,
			lock = excluded.lock,
			salt = excluded.salt,
			mnemonic = excluded.mnemonic,
			secret = excluded.secret,
			encrypt = excluded.encrypt,
			avatar = excluded.avatar,
			datetime = excluded.datetime
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		a.GID, a.Index, int64(a.Lang), a.Name, a.Lock, a.Salt, a.Mnemonic, a.Secret, a.Encrypt,
		a.Avatar, a.Wallet, a.PubHeight, a.OwnHeight, a.Event.String(), a.Datetime).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateLock(ctx context.Context, a *models.Account) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET lock = ?, salt = ?, encrypt = ? WHERE id = ?`,
		a.Lock, a.Salt, a.Encrypt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account lock: %w", err)
	}
	return expectOne(res, a.ID)
}

func (r *SQLiteRepository) UpdateInfo(ctx context.Context, a *models.Account) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, avatar = ?, wallet = ?, pub_height = ? WHERE id = ?`,
		a.Name, a.Avatar, a.Wallet, a.PubHeight, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account info: %w", err)
	}
	return expectOne(res, a.ID)
}

func (r *SQLiteRepository) UpdateConsensus(ctx context.Context, id int64, height uint64, event uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET own_height = ?, event = ? WHERE id = ?`,
		height, event.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update account consensus: %w", err)
	}
	return expectOne(res, id)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id int64) error {
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", id, common.ErrNotFound)
	}
	return nil
}
