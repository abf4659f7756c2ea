package alarm

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/event"
	"github.com/nao1215/siren/pkg/migration"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のオペレータートークン署名鍵。
const testJWTSecret = "test-jwt-secret"

// openTestDB はマイグレーション済みのインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if _, err := migration.Run(t.Context(), sqlDB, alarmdb.Migrations, alarmdb.MigrationsDir, zap.NewNop()); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	return sqlDB
}

// testConfig はテスト用の設定を返す。
func testConfig() config.Config {
	cfg := config.Default("alarm")
	cfg.JWTSecret = testJWTSecret
	cfg.Dispatch.Timeout = time.Second
	return cfg
}

// setupTestServer はテスト用のアラームサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T, cfg config.Config, d deps) *Server {
	t.Helper()

	if d.deliverer == nil {
		d.deliverer = newRecordingDeliverer()
	}
	s, err := newServer(cfg, openTestDB(t), d, zap.NewNop())
	if err != nil {
		t.Fatalf("サーバーの構築に失敗: %v", err)
	}
	return s
}

// scenario はテナントT1とそのユーザーを表す。
type scenario struct {
	tenant  alarmdb.Tenant
	alarmed alarmdb.User
	normal  alarmdb.User
	admin   alarmdb.User
}

// seedScenario はテナントにadmin、alarmed、normalのユーザーを1人ずつ登録する。
func seedScenario(t *testing.T, s *Server, name string) scenario {
	t.Helper()
	ctx := t.Context()

	tenant, admin, err := s.directory.CreateTenant(ctx, name, name+"-admin", name+"-admin@example.com")
	if err != nil {
		t.Fatalf("テナントの作成に失敗: %v", err)
	}
	alarmed, err := s.directory.CreateUser(ctx, tenant.ID, name+"-alarmed", "", RoleAlarmed)
	if err != nil {
		t.Fatalf("ユーザーの作成に失敗: %v", err)
	}
	normal, err := s.directory.CreateUser(ctx, tenant.ID, name+"-normal", "", RoleNormal)
	if err != nil {
		t.Fatalf("ユーザーの作成に失敗: %v", err)
	}
	return scenario{tenant: tenant, alarmed: alarmed, normal: normal, admin: admin}
}

// recordingDeliverer は配信呼び出しを記録するDeliverer。
type recordingDeliverer struct {
	mu    sync.Mutex
	calls map[int64]event.Delivery
	fail  map[int64]error
	delay map[int64]time.Duration
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{
		calls: make(map[int64]event.Delivery),
		fail:  make(map[int64]error),
		delay: make(map[int64]time.Duration),
	}
}

func (r *recordingDeliverer) Deliver(ctx context.Context, recipientID int64, d event.Delivery) error {
	r.mu.Lock()
	delay := r.delay[recipientID]
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[recipientID] = d
	return r.fail[recipientID]
}

func (r *recordingDeliverer) recipients() map[int64]event.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]event.Delivery, len(r.calls))
	for k, v := range r.calls {
		out[k] = v
	}
	return out
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// countAlarms はテナントの保存済みアラーム件数を返す。
func countAlarms(t *testing.T, s *Server, tenantID int64) int64 {
	t.Helper()
	n, err := alarmdb.New(s.db).CountAlarmsByTenant(t.Context(), tenantID)
	if err != nil {
		t.Fatalf("アラーム件数の取得に失敗: %v", err)
	}
	return n
}
