package db

import (
	"database/sql"
	"time"
)

// Tenant はアラームを発報する単位となるスペース。
type Tenant struct {
	ID int64
	// Key はテナントを識別する共有シークレット。
	Key       string
	Name      string
	CreatedAt time.Time
}

// User はテナントに所属するユーザー。所属テナントは作成後に変更しない。
type User struct {
	ID       int64
	TenantID int64
	Username string
	Email    sql.NullString
	// Role は normal, admin, alarmed のいずれか。
	Role      string
	CreatedAt time.Time
}

// Alarm は発報されたアラーム。作成後は変更しない。
type Alarm struct {
	ID       string
	TenantID int64
	// RaisedBy は発報したユーザー。匿名の発報ではNULL。
	RaisedBy  sql.NullInt64
	Position  string
	Message   string
	Level     string
	CreatedAt time.Time
}
