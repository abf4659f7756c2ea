package db

import (
	"context"
	"database/sql"
	"time"
)

const createRecipient = `
INSERT INTO recipients (id, username, email, created_at)
VALUES (?, ?, ?, ?)
`

// CreateRecipientParams はCreateRecipientの引数。
type CreateRecipientParams struct {
	ID        int64
	Username  string
	Email     sql.NullString
	CreatedAt time.Time
}

// CreateRecipient は受信者を登録する。
func (q *Queries) CreateRecipient(ctx context.Context, arg CreateRecipientParams) error {
	_, err := q.db.ExecContext(ctx, createRecipient, arg.ID, arg.Username, arg.Email, arg.CreatedAt)
	return err
}

const getRecipient = `
SELECT id, username, email, created_at FROM recipients WHERE id = ?
`

// GetRecipient はIDで受信者を取得する。
func (q *Queries) GetRecipient(ctx context.Context, id int64) (Recipient, error) {
	row := q.db.QueryRowContext(ctx, getRecipient, id)
	var r Recipient
	err := row.Scan(&r.ID, &r.Username, &r.Email, &r.CreatedAt)
	return r, err
}

const countRecipientConflicts = `
SELECT COUNT(*) FROM recipients
WHERE id = ? OR username = ? OR (? IS NOT NULL AND email = ?)
`

// CountRecipientConflictsParams はCountRecipientConflictsの引数。
type CountRecipientConflictsParams struct {
	ID       int64
	Username string
	Email    sql.NullString
}

// CountRecipientConflicts はID、ユーザー名、メールアドレスのいずれかが重複する受信者数を返す。
func (q *Queries) CountRecipientConflicts(ctx context.Context, arg CountRecipientConflictsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRecipientConflicts, arg.ID, arg.Username, arg.Email, arg.Email)
	var count int64
	err := row.Scan(&count)
	return count, err
}
