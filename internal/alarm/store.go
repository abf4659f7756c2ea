package alarm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/event"
)

// AlarmStore はアラームの検証と保存を担う。
type AlarmStore struct {
	queries *alarmdb.Queries
	now     func() time.Time
}

// NewAlarmStore はAlarmStoreを生成する。
func NewAlarmStore(queries *alarmdb.Queries) *AlarmStore {
	return &AlarmStore{
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateAlarm は認可済みテナントのアラームを1件保存する。
// 検証はすべて保存前に行い、失敗した場合は何も書き込まない。
// raiserUserIDを指定した場合、そのユーザーはテナントに所属している必要がある。
func (s *AlarmStore) CreateAlarm(ctx context.Context, tenant alarmdb.Tenant, raiserUserID *int64, position, message, level string) (alarmdb.Alarm, error) {
	if strings.TrimSpace(position) == "" {
		return alarmdb.Alarm{}, apperr.NewValidation(apperr.MissingField, "position")
	}
	if strings.TrimSpace(message) == "" {
		return alarmdb.Alarm{}, apperr.NewValidation(apperr.MissingField, "message")
	}
	lv, err := event.ParseLevel(level)
	if err != nil {
		return alarmdb.Alarm{}, apperr.NewValidation(apperr.MissingField, "level")
	}

	var raisedBy sql.NullInt64
	if raiserUserID != nil {
		raiser, err := s.queries.GetUser(ctx, *raiserUserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return alarmdb.Alarm{}, fmt.Errorf("発報ユーザーの取得に失敗: %w", err)
		}
		// 存在しないユーザーも別テナントのユーザーと同じ扱いにする
		if err != nil || raiser.TenantID != tenant.ID {
			return alarmdb.Alarm{}, apperr.NewValidation(apperr.CrossTenantUser, "userId")
		}
		raisedBy = sql.NullInt64{Int64: raiser.ID, Valid: true}
	}

	a := alarmdb.Alarm{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		RaisedBy:  raisedBy,
		Position:  position,
		Message:   message,
		Level:     string(lv),
		CreatedAt: s.now(),
	}
	if err := s.queries.CreateAlarm(ctx, alarmdb.CreateAlarmParams{
		ID:        a.ID,
		TenantID:  a.TenantID,
		RaisedBy:  a.RaisedBy,
		Position:  a.Position,
		Message:   a.Message,
		Level:     a.Level,
		CreatedAt: a.CreatedAt,
	}); err != nil {
		return alarmdb.Alarm{}, fmt.Errorf("アラームの保存に失敗: %w", err)
	}
	return a, nil
}

// ListAlarms はテナントのアラームを発報順に返す。
func (s *AlarmStore) ListAlarms(ctx context.Context, tenantID int64) ([]alarmdb.Alarm, error) {
	items, err := s.queries.ListAlarmsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("アラーム一覧の取得に失敗: %w", err)
	}
	return items, nil
}
