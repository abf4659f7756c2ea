package db

import (
	"context"
	"database/sql"
	"time"
)

const userColumns = `id, tenant_id, username, email, role, created_at`

const createUser = `
INSERT INTO users (tenant_id, username, email, role, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + userColumns

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	TenantID  int64
	Username  string
	Email     sql.NullString
	Role      string
	CreatedAt time.Time
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.TenantID, arg.Username, arg.Email, arg.Role, arg.CreatedAt)
	return scanUser(row)
}

const getUser = `
SELECT ` + userColumns + ` FROM users WHERE id = ?
`

// GetUser はIDでユーザーを取得する。
func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUser, id))
}

const countUserConflicts = `
SELECT COUNT(*) FROM users
WHERE username = ? OR (? IS NOT NULL AND email = ?)
`

// CountUserConflictsParams はCountUserConflictsの引数。
type CountUserConflictsParams struct {
	Username string
	Email    sql.NullString
}

// CountUserConflicts はユーザー名またはメールアドレスが重複するユーザー数を返す。
func (q *Queries) CountUserConflicts(ctx context.Context, arg CountUserConflictsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUserConflicts, arg.Username, arg.Email, arg.Email)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listUsersByTenant = `
SELECT ` + userColumns + ` FROM users WHERE tenant_id = ? ORDER BY id
`

// ListUsersByTenant はテナントのユーザーをID順に返す。
func (q *Queries) ListUsersByTenant(ctx context.Context, tenantID int64) ([]User, error) {
	return q.listUsers(ctx, listUsersByTenant, tenantID)
}

const listAllUsers = `
SELECT ` + userColumns + ` FROM users ORDER BY id
`

// ListAllUsers は全テナントのユーザーをID順に返す。
func (q *Queries) ListAllUsers(ctx context.Context) ([]User, error) {
	return q.listUsers(ctx, listAllUsers)
}

const listUsersByTenantAndRoles = `
SELECT ` + userColumns + ` FROM users
WHERE tenant_id = ? AND role IN (?, ?)
ORDER BY id
`

// ListUsersByTenantAndRolesParams はListUsersByTenantAndRolesの引数。
// 1種類のロールだけを対象にする場合はRole1とRole2に同じ値を指定する。
type ListUsersByTenantAndRolesParams struct {
	TenantID int64
	Role1    string
	Role2    string
}

// ListUsersByTenantAndRoles はテナント内で指定ロールを持つユーザーをID順に返す。
func (q *Queries) ListUsersByTenantAndRoles(ctx context.Context, arg ListUsersByTenantAndRolesParams) ([]User, error) {
	return q.listUsers(ctx, listUsersByTenantAndRoles, arg.TenantID, arg.Role1, arg.Role2)
}

func (q *Queries) listUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通部分。
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	return u, err
}
