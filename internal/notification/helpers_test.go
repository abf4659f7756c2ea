package notification

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	notificationdb "github.com/nao1215/siren/internal/notification/db"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/middleware"
	"github.com/nao1215/siren/pkg/migration"
	"github.com/nao1215/siren/pkg/pubsub"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testServiceSecret はテスト用のサービス間トークン署名鍵。
const testServiceSecret = "test-service-secret"

// openTestDB はマイグレーション済みのインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if _, err := migration.Run(t.Context(), sqlDB, notificationdb.Migrations, notificationdb.MigrationsDir, zap.NewNop()); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	return sqlDB
}

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteとメモリブローカーで構築する。
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default("notification")
	cfg.ServiceSecret = testServiceSecret

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	broker := pubsub.NewMemoryBroker(8)
	broker.OnDrop = metrics.onDrop
	t.Cleanup(func() { _ = broker.Close() })

	return newServer(cfg, openTestDB(t), broker, registry, metrics, zap.NewNop())
}

// createTestRecipient はテスト用に受信者を登録するヘルパー関数。
func createTestRecipient(t *testing.T, s *Server, id int64, username string) {
	t.Helper()
	if _, err := s.service.RegisterRecipient(t.Context(), id, username, ""); err != nil {
		t.Fatalf("テスト用受信者の登録に失敗: %v", err)
	}
}

// serviceToken はテスト用のサービス間トークンを発行する。
func serviceToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testServiceSecret, "alarm", middleware.RoleService, time.Minute)
	if err != nil {
		t.Fatalf("トークンの発行に失敗: %v", err)
	}
	return token
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// countNotifications は受信者の保存済み通知件数を返す。
func countNotifications(t *testing.T, s *Server, recipientID int64) int64 {
	t.Helper()
	n, err := notificationdb.New(s.db).CountNotificationsByRecipient(t.Context(), recipientID)
	if err != nil {
		t.Fatalf("通知件数の取得に失敗: %v", err)
	}
	return n
}
