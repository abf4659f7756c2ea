package notification

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

// TestHandleNotify は POST /notify/:recipientId を検証する。
func TestHandleNotify(t *testing.T) {
	t.Parallel()

	t.Run("未登録の受信者には404が返り通知が保存されないこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(s.Handler(), http.MethodPost, "/notify/42", serviceToken(t), map[string]any{
			"message": "fire",
		})

		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusNotFound, w.Body.String())
		}
		if got := countNotifications(t, s, 42); got != 0 {
			t.Errorf("保存件数 = %d, want 0", got)
		}
	})

	t.Run("正常に通知を受け付け201とIDが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		createTestRecipient(t, s, 1, "alice")

		w := doRequest(s.Handler(), http.MethodPost, "/notify/1", serviceToken(t), map[string]any{
			"message":   "fire",
			"position":  "Room 101",
			"level":     "critical",
			"timestamp": "2024-03-01T09:30:00Z",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
		}

		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if resp["notificationId"] == "" {
			t.Error("notificationIdが空")
		}

		w = doRequest(s.Handler(), http.MethodGet, "/recipients/1/notifications", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var items []notificationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("件数 = %d, want 1", len(items))
		}
		if items[0].ID != resp["notificationId"] || items[0].Position != "Room 101" || items[0].Level != "critical" {
			t.Errorf("通知 = %+v", items[0])
		}
		if items[0].Timestamp != "2024-03-01T09:30:00Z" {
			t.Errorf("Timestamp = %q", items[0].Timestamp)
		}
	})

	tests := []struct {
		name   string
		path   string
		token  bool
		body   any
		status int
	}{
		{name: "トークンが無い場合は401", path: "/notify/1", body: map[string]any{"message": "x"}, status: http.StatusUnauthorized},
		{name: "受信者IDが数値でない場合は400", path: "/notify/abc", token: true, body: map[string]any{"message": "x"}, status: http.StatusBadRequest},
		{name: "メッセージが無い場合は400", path: "/notify/1", token: true, body: map[string]any{"position": "x"}, status: http.StatusBadRequest},
		{name: "重要度が不正な場合は400", path: "/notify/1", token: true, body: map[string]any{"message": "x", "level": "panic"}, status: http.StatusBadRequest},
		{name: "JSONが不正な場合は400", path: "/notify/1", token: true, body: "not-an-object", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := setupTestServer(t)
			createTestRecipient(t, s, 1, "alice")

			token := ""
			if tt.token {
				token = serviceToken(t)
			}
			w := doRequest(s.Handler(), http.MethodPost, tt.path, token, tt.body)
			if w.Code != tt.status {
				t.Errorf("ステータスコード = %d, want %d, body = %s", w.Code, tt.status, w.Body.String())
			}
			if got := countNotifications(t, s, 1); got != 0 {
				t.Errorf("保存件数 = %d, want 0", got)
			}
		})
	}
}

// TestHandleHistory は GET /recipients/:id/notifications を検証する。
func TestHandleHistory(t *testing.T) {
	t.Parallel()

	t.Run("未登録の受信者は404が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(s.Handler(), http.MethodGet, "/recipients/5/notifications", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("通知が無い場合は空配列が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		createTestRecipient(t, s, 5, "eve")

		w := doRequest(s.Handler(), http.MethodGet, "/recipients/5/notifications", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("body = %s, want []", w.Body.String())
		}
	})
}

// TestHandleRegisterRecipient は POST /recipients を検証する。
func TestHandleRegisterRecipient(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	token := serviceToken(t)

	w := doRequest(s.Handler(), http.MethodPost, "/recipients", token, map[string]any{
		"id": 3, "username": "carol", "email": "carol@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	w = doRequest(s.Handler(), http.MethodPost, "/recipients", token, map[string]any{
		"id": 4, "username": "carol",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("重複時のステータスコード = %d, want %d", w.Code, http.StatusConflict)
	}

	w = doRequest(s.Handler(), http.MethodPost, "/recipients", token, map[string]any{"id": 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("ユーザー名欠落時のステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doRequest(s.Handler(), http.MethodPost, "/recipients", "", map[string]any{"id": 6, "username": "dave"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("トークン無しのステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestHealthAndMetrics はヘルスチェックとメトリクスを検証する。
func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	createTestRecipient(t, s, 1, "alice")
	doRequest(s.Handler(), http.MethodPost, "/notify/1", serviceToken(t), map[string]any{"message": "fire"})

	w := doRequest(s.Handler(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ヘルスチェックのステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(s.Handler(), http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("メトリクスのステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "siren_notification_received_total 1") {
		t.Errorf("受信件数のメトリクスが出力されていない: %s", w.Body.String())
	}
}
