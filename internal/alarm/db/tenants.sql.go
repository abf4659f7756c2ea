package db

import (
	"context"
	"time"
)

const createTenant = `
INSERT INTO tenants (api_key, name, created_at)
VALUES (?, ?, ?)
RETURNING id, api_key, name, created_at
`

// CreateTenantParams はCreateTenantの引数。
type CreateTenantParams struct {
	Key       string
	Name      string
	CreatedAt time.Time
}

// CreateTenant はテナントを作成する。
func (q *Queries) CreateTenant(ctx context.Context, arg CreateTenantParams) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, createTenant, arg.Key, arg.Name, arg.CreatedAt)
	var t Tenant
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.CreatedAt)
	return t, err
}

const getTenantByKey = `
SELECT id, api_key, name, created_at FROM tenants WHERE api_key = ?
`

// GetTenantByKey はテナントキーでテナントを取得する。
func (q *Queries) GetTenantByKey(ctx context.Context, key string) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, getTenantByKey, key)
	var t Tenant
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.CreatedAt)
	return t, err
}
