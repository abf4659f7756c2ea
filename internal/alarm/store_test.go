package alarm

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
)

func int64Ptr(v int64) *int64 { return &v }

// TestAlarmStoreCreateAlarm はアラーム保存時の検証を確認する。
func TestAlarmStoreCreateAlarm(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t, testConfig(), deps{})
	t1 := seedScenario(t, s, "t1")
	t2 := seedScenario(t, s, "t2")

	t.Run("発報ユーザー付きで保存できること", func(t *testing.T) {
		a, err := s.store.CreateAlarm(t.Context(), t1.tenant, int64Ptr(t1.normal.ID), "Building A", "Fire", "critical")
		if err != nil {
			t.Fatalf("CreateAlarm()でエラーが発生: %v", err)
		}
		if a.ID == "" {
			t.Error("IDが払い出されていない")
		}
		if !a.RaisedBy.Valid || a.RaisedBy.Int64 != t1.normal.ID {
			t.Errorf("RaisedBy = %+v, want %d", a.RaisedBy, t1.normal.ID)
		}
	})

	t.Run("匿名の発報を保存できること", func(t *testing.T) {
		a, err := s.store.CreateAlarm(t.Context(), t2.tenant, nil, "Gate", "Intrusion", "warning")
		if err != nil {
			t.Fatalf("CreateAlarm()でエラーが発生: %v", err)
		}
		if a.RaisedBy.Valid {
			t.Errorf("RaisedBy = %+v, want NULL", a.RaisedBy)
		}
	})

	tests := []struct {
		name     string
		raiser   *int64
		position string
		message  string
		level    string
		reason   apperr.ValidationReason
		field    string
	}{
		{name: "発生場所が空", position: " ", message: "m", level: "info", reason: apperr.MissingField, field: "position"},
		{name: "メッセージが空", position: "p", message: "", level: "info", reason: apperr.MissingField, field: "message"},
		{name: "重要度が範囲外", position: "p", message: "m", level: "fatal", reason: apperr.MissingField, field: "level"},
		{name: "重要度が空", position: "p", message: "m", level: "", reason: apperr.MissingField, field: "level"},
		{name: "別テナントのユーザー", raiser: int64Ptr(t2.alarmed.ID), position: "p", message: "m", level: "info", reason: apperr.CrossTenantUser, field: "userId"},
		{name: "存在しないユーザー", raiser: int64Ptr(9999), position: "p", message: "m", level: "info", reason: apperr.CrossTenantUser, field: "userId"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"は保存されずに拒否されること", func(t *testing.T) {
			before := countAlarms(t, s, t1.tenant.ID)

			_, err := s.store.CreateAlarm(t.Context(), t1.tenant, tt.raiser, tt.position, tt.message, tt.level)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Reason != tt.reason || verr.Field != tt.field {
				t.Errorf("err = %+v, want %s(%s)", verr, tt.reason, tt.field)
			}
			if after := countAlarms(t, s, t1.tenant.ID); after != before {
				t.Errorf("アラーム件数 = %d, want %d", after, before)
			}
		})
	}
}

// TestAlarmStoreListAlarms は一覧が発報順でテナントごとに分かれることを確認する。
func TestAlarmStoreListAlarms(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t, testConfig(), deps{})
	t1 := seedScenario(t, s, "t1")
	t2 := seedScenario(t, s, "t2")

	// 同一時刻でも挿入順に並ぶことを確認するため時計を固定する
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return fixed }

	for _, msg := range []string{"first", "second", "third"} {
		if _, err := s.store.CreateAlarm(t.Context(), t1.tenant, nil, "p", msg, "info"); err != nil {
			t.Fatalf("CreateAlarm()でエラーが発生: %v", err)
		}
	}
	if _, err := s.store.CreateAlarm(t.Context(), t2.tenant, nil, "p", "other", "info"); err != nil {
		t.Fatalf("CreateAlarm()でエラーが発生: %v", err)
	}

	items, err := s.store.ListAlarms(t.Context(), t1.tenant.ID)
	if err != nil {
		t.Fatalf("ListAlarms()でエラーが発生: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("件数 = %d, want 3", len(items))
	}
	for i, want := range []string{"first", "second", "third"} {
		if items[i].Message != want {
			t.Errorf("items[%d].Message = %q, want %q", i, items[i].Message, want)
		}
	}
}

// TestAlarmStoreStorageFailure は保存の失敗が500として扱われることを確認する。
func TestAlarmStoreStorageFailure(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの作成に失敗: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectExec("INSERT INTO alarms").WillReturnError(errors.New("disk I/O error"))

	store := NewAlarmStore(alarmdb.New(sqlDB))
	_, err = store.CreateAlarm(t.Context(), alarmdb.Tenant{ID: 1}, nil, "p", "m", "info")
	if err == nil {
		t.Fatal("エラーが返らない")
	}
	if status := apperr.HTTPStatus(err); status != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行のクエリがある: %v", err)
	}
}
