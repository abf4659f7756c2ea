package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/siren/pkg/event"
)

// dialLive はテストサーバーのライブ配信にWebSocketで接続する。
func dialLive(t *testing.T, ts *httptest.Server, recipientID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/notify?recipientId=" + recipientID
	return websocket.DefaultDialer.Dial(url, nil)
}

// readNotification はWebSocketから通知を1件読む。
func readNotification(t *testing.T, conn *websocket.Conn) event.Notification {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n event.Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("通知の受信に失敗: %v", err)
	}
	return n
}

// TestWebSocket はWebSocketによるライブ配信を検証する。
func TestWebSocket(t *testing.T) {
	t.Parallel()

	t.Run("未登録の受信者はアップグレード前に404が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		_, resp, err := dialLive(t, ts, "99")
		if err == nil {
			t.Fatal("接続できてしまった")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Errorf("レスポンス = %v, want 404", resp)
		}
	})

	t.Run("受信者IDが不正な場合は400が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		_, resp, err := dialLive(t, ts, "x")
		if err == nil {
			t.Fatal("接続できてしまった")
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("レスポンス = %v, want 400", resp)
		}
	})

	t.Run("接続中の全クライアントに同じ通知が届くこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		createTestRecipient(t, s, 1, "alice")
		createTestRecipient(t, s, 2, "bob")
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		c1, _, err := dialLive(t, ts, "1")
		if err != nil {
			t.Fatalf("接続に失敗: %v", err)
		}
		defer c1.Close()
		c2, _, err := dialLive(t, ts, "1")
		if err != nil {
			t.Fatalf("接続に失敗: %v", err)
		}
		defer c2.Close()

		w := doRequest(s.Handler(), http.MethodPost, "/notify/1", serviceToken(t), map[string]any{
			"message": "fire", "level": "critical",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}

		n1 := readNotification(t, c1)
		n2 := readNotification(t, c2)
		if n1 != n2 {
			t.Errorf("クライアントごとに内容が異なる: %+v / %+v", n1, n2)
		}
		if n1.Message != "fire" || n1.RecipientID != 1 || n1.Level != event.LevelCritical {
			t.Errorf("通知 = %+v", n1)
		}
	})

	t.Run("切断すると購読が解除されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		createTestRecipient(t, s, 1, "alice")
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		conn, _, err := dialLive(t, ts, "1")
		if err != nil {
			t.Fatalf("接続に失敗: %v", err)
		}
		conn.Close()

		broker := s.broker.(interface{ SubscriberCount(int64) int })
		deadline := time.Now().Add(2 * time.Second)
		for broker.SubscriberCount(1) != 0 {
			if time.Now().After(deadline) {
				t.Fatal("購読が解除されない")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

// TestStream はServer-Sent Eventsによるライブ配信を検証する。
func TestStream(t *testing.T) {
	t.Parallel()

	t.Run("未登録の受信者は404が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(s.Handler(), http.MethodGet, "/recipients/7/stream", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("通知がnotificationイベントとして届くこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		createTestRecipient(t, s, 1, "alice")
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/recipients/1/stream", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("接続に失敗: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		w := doRequest(s.Handler(), http.MethodPost, "/notify/1", serviceToken(t), map[string]any{"message": "fire"})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}

		var eventName, data string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event:"); ok {
				eventName = strings.TrimSpace(name)
			}
			if d, ok := strings.CutPrefix(line, "data:"); ok {
				data = strings.TrimSpace(d)
				break
			}
		}
		if eventName != "notification" {
			t.Errorf("event = %q, want notification", eventName)
		}
		var n event.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			t.Fatalf("データのパースに失敗: %v (%q)", err, data)
		}
		if n.Message != "fire" {
			t.Errorf("Message = %q, want fire", n.Message)
		}
	})
}
