package db

import (
	"context"
	"database/sql"
	"time"
)

const createNotification = `
INSERT INTO notifications (id, recipient_id, message, position, level, timestamp, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID          string
	RecipientID int64
	Message     string
	Position    sql.NullString
	Level       sql.NullString
	Timestamp   time.Time
	CreatedAt   time.Time
}

// CreateNotification は通知を保存する。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID,
		arg.RecipientID,
		arg.Message,
		arg.Position,
		arg.Level,
		arg.Timestamp,
		arg.CreatedAt,
	)
	return err
}

const listNotificationsByRecipient = `
SELECT id, recipient_id, message, position, level, timestamp, created_at
FROM notifications
WHERE recipient_id = ?
ORDER BY created_at ASC, rowid ASC
`

// ListNotificationsByRecipient は受信者の通知を古い順に返す。
func (q *Queries) ListNotificationsByRecipient(ctx context.Context, recipientID int64) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, listNotificationsByRecipient, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.Message,
			&n.Position,
			&n.Level,
			&n.Timestamp,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countNotificationsByRecipient = `
SELECT COUNT(*) FROM notifications WHERE recipient_id = ?
`

// CountNotificationsByRecipient は受信者の通知件数を返す。
func (q *Queries) CountNotificationsByRecipient(ctx context.Context, recipientID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countNotificationsByRecipient, recipientID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
