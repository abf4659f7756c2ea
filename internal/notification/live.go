package notification

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nao1215/siren/pkg/pubsub"
)

const (
	// writeWait はWebSocketへの1回の書き込みの期限。
	writeWait = 10 * time.Second
	// pongWait はクライアントからのpongを待つ期限。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くする。
	pingPeriod = 30 * time.Second
	// maxMessageSize はクライアントから受け取るメッセージの上限。
	maxMessageSize = 512
)

// newUpgrader はOriginを検証するWebSocketアップグレーダーを生成する。
// Originヘッダーの無いクライアント（ネイティブアプリ）は許可する。
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			_, ok := origins[origin]
			return ok
		},
	}
}

// handleWebSocket は GET /notify?recipientId= をWebSocketにアップグレードし、
// 受信者宛ての通知をJSONフレームで送り続ける。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID, ok := parseID(c, c.Query("recipientId"))
		if !ok {
			return
		}

		// 購読はアップグレード前に確立し、未登録の受信者は404で返す
		sub, err := s.service.Subscribe(c.Request.Context(), recipientID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		defer sub.Close()

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("WebSocketのアップグレードに失敗しました", zap.Error(err))
			return
		}
		defer conn.Close()

		gauge := s.metrics.subscribers.WithLabelValues("websocket")
		gauge.Inc()
		defer gauge.Dec()

		s.logger.Info("WebSocketクライアントが接続しました", zap.Int64("recipient_id", recipientID))
		go s.readPump(conn, sub)
		s.writePump(conn, sub)
		s.logger.Info("WebSocketクライアントが切断しました", zap.Int64("recipient_id", recipientID))
	}
}

// readPump はクライアントからのフレームを読み捨て、切断を検知したら購読を終える。
func (s *Server) readPump(conn *websocket.Conn, sub *pubsub.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump は購読したイベントをクライアントへ書き込む。
// 購読が終わるか書き込みに失敗したら戻る。
func (s *Server) writePump(conn *websocket.Conn, sub *pubsub.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, ev.Data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStream は受信者宛ての通知をServer-Sent Eventsで送り続ける。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID, ok := parseID(c, c.Param("id"))
		if !ok {
			return
		}

		sub, err := s.service.Subscribe(c.Request.Context(), recipientID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		defer sub.Close()

		gauge := s.metrics.subscribers.WithLabelValues("sse")
		gauge.Inc()
		defer gauge.Dec()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return false
				}
				c.Render(-1, sse.Event{Id: ev.ID, Event: "notification", Data: ev.Data})
				return true
			case <-ticker.C:
				_, err := io.WriteString(w, ": keep-alive\n\n")
				return err == nil
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
