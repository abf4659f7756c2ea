package db

import (
	"context"
	"database/sql"
	"time"
)

const createAlarm = `
INSERT INTO alarms (id, tenant_id, raised_by, position, message, level, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// CreateAlarmParams はCreateAlarmの引数。
type CreateAlarmParams struct {
	ID        string
	TenantID  int64
	RaisedBy  sql.NullInt64
	Position  string
	Message   string
	Level     string
	CreatedAt time.Time
}

// CreateAlarm はアラームを1件保存する。
func (q *Queries) CreateAlarm(ctx context.Context, arg CreateAlarmParams) error {
	_, err := q.db.ExecContext(ctx, createAlarm,
		arg.ID,
		arg.TenantID,
		arg.RaisedBy,
		arg.Position,
		arg.Message,
		arg.Level,
		arg.CreatedAt,
	)
	return err
}

const listAlarmsByTenant = `
SELECT id, tenant_id, raised_by, position, message, level, created_at
FROM alarms
WHERE tenant_id = ?
ORDER BY created_at ASC, rowid ASC
`

// ListAlarmsByTenant はテナントのアラームを発報順に返す。
func (q *Queries) ListAlarmsByTenant(ctx context.Context, tenantID int64) ([]Alarm, error) {
	rows, err := q.db.QueryContext(ctx, listAlarmsByTenant, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Alarm{}
	for rows.Next() {
		var a Alarm
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.RaisedBy,
			&a.Position,
			&a.Message,
			&a.Level,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countAlarmsByTenant = `
SELECT COUNT(*) FROM alarms WHERE tenant_id = ?
`

// CountAlarmsByTenant はテナントのアラーム件数を返す。
func (q *Queries) CountAlarmsByTenant(ctx context.Context, tenantID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAlarmsByTenant, tenantID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
