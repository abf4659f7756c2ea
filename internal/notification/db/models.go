package db

import (
	"database/sql"
	"time"
)

// Recipient は通知を受け取る受信者。IDはアラームサービスのユーザーIDと同じ値。
type Recipient struct {
	ID        int64
	Username  string
	Email     sql.NullString
	CreatedAt time.Time
}

// Notification は受信者1人に届いた通知。作成後は変更しない。
type Notification struct {
	ID          string
	RecipientID int64
	Message     string
	Position    sql.NullString
	Level       sql.NullString
	Timestamp   time.Time
	CreatedAt   time.Time
}
