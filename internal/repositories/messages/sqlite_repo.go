package messages

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, m *models.Message) error {
	query := `INSERT INTO messages (fid, mid, is_me, m_type, content, height, datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`

	isMe := 0
	if m.IsMe {
		isMe = 1
	}
	err := r.db.QueryRowContext(ctx, query, m.GroupID, m.MemberRowID, isMe, int64(m.Type), m.Content, m.Height, m.Datetime).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, groupID int64) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fid, mid, is_me, m_type, content, height, datetime FROM messages WHERE fid = ? ORDER BY height`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	var result []models.Message
	for rows.Next() {
		var (
			m       models.Message
			isMe    int64
			mType   int64
			content sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.MemberRowID, &isMe, &mType, &content, &m.Height, &m.Datetime); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.IsMe = isMe == 1
		m.Type = models.MessageTypeFromInt(mType)
		m.Content = content.String
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return result, nil
}
