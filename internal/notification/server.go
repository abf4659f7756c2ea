package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	notificationdb "github.com/nao1215/siren/internal/notification/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/event"
	"github.com/nao1215/siren/pkg/middleware"
	"github.com/nao1215/siren/pkg/migration"
	"github.com/nao1215/siren/pkg/pubsub"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ上限。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg config.Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// service は通知の保存と配信を担う。
	service *Service
	// broker はライブ配信のPub/Sub。
	broker pubsub.Broker
	// registry はこのサーバー専用のメトリクスレジストリ。
	registry *prometheus.Registry
	// metrics は通知サービスのメトリクス。
	metrics *Metrics
	// upgrader はWebSocketのハンドシェイクを行う。
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースを開いてマイグレーションを適用し、設定に応じたブローカーを用意する。
func NewServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if _, err := migration.Run(ctx, sqlDB, notificationdb.Migrations, notificationdb.MigrationsDir, logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	broker, err := newBroker(ctx, cfg.Broker, metrics, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return newServer(cfg, sqlDB, broker, registry, metrics, logger), nil
}

// newBroker は設定に応じたブローカーを生成する。
func newBroker(ctx context.Context, cfg config.BrokerConfig, metrics *Metrics, logger *zap.Logger) (pubsub.Broker, error) {
	switch cfg.Kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b := pubsub.NewRedisBroker(rdb, cfg.BufferSize, logger)
		b.OnDrop = metrics.onDrop
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		logger.Info("Redisブローカーを使用します", zap.String("addr", cfg.RedisAddr))
		return b, nil
	default:
		b := pubsub.NewMemoryBroker(cfg.BufferSize)
		b.OnDrop = metrics.onDrop
		return b, nil
	}
}

// newServer は依存を組み立ててルーティングを設定する。
func newServer(cfg config.Config, sqlDB *sql.DB, broker pubsub.Broker, registry *prometheus.Registry, metrics *Metrics, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:   router,
		cfg:      cfg,
		db:       sqlDB,
		service:  NewService(notificationdb.New(sqlDB), broker, logger, metrics),
		broker:   broker,
		registry: registry,
		metrics:  metrics,
		upgrader: newUpgrader(cfg.AllowedOrigins),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するまでリクエストを処理する。
// ctxの終了後は処理中のリクエストを待ってから戻る。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("通知サービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	s.logger.Info("通知サービスを停止しました")
	return nil
}

// Close はブローカーとデータベース接続を閉じる。
func (s *Server) Close() error {
	return errors.Join(s.broker.Close(), s.db.Close())
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	service := s.router.Group("/")
	service.Use(middleware.JWTAuth(s.cfg.ServiceSecret, middleware.RoleService))
	{
		// アラームサービスからの配信
		service.POST("/notify/:recipientId", s.handleNotify())
		// 受信者の登録
		service.POST("/recipients", s.handleRegisterRecipient())
	}

	// 通知履歴
	s.router.GET("/recipients/:id/notifications", s.handleHistory())
	// ライブ配信（WebSocket）
	s.router.GET("/notify", s.handleWebSocket())
	// ライブ配信（Server-Sent Events）
	s.router.GET("/recipients/:id/stream", s.handleStream())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// RecipientID は通知先の受信者ID。
	RecipientID int64 `json:"recipientId"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Position はアラームの発生場所。
	Position string `json:"position,omitempty"`
	// Level はアラームの重要度。
	Level string `json:"level,omitempty"`
	// Timestamp はアラームの発生日時（RFC3339形式）。
	Timestamp string `json:"timestamp"`
	// CreatedAt は通知の保存日時（RFC3339形式）。
	CreatedAt string `json:"createdAt"`
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(items []notificationdb.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		responses = append(responses, notificationResponse{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			Message:     n.Message,
			Position:    n.Position.String,
			Level:       n.Level.String,
			Timestamp:   n.Timestamp.Format(time.RFC3339Nano),
			CreatedAt:   n.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return responses
}

// handleNotify は受信者宛ての通知を受け付けるハンドラ。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID, ok := parseID(c, c.Param("recipientId"))
		if !ok {
			return
		}

		var req event.Delivery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.service.Receive(c.Request.Context(), recipientID, req)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"notificationId": n.ID})
	}
}

// registerRecipientRequest は受信者登録リクエストのJSON構造。
type registerRecipientRequest struct {
	// ID はアラームサービスのユーザーID。
	ID int64 `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Email はメールアドレス。
	Email string `json:"email"`
}

// handleRegisterRecipient は受信者を登録するハンドラ。
func (s *Server) handleRegisterRecipient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRecipientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		r, err := s.service.RegisterRecipient(c.Request.Context(), req.ID, req.Username, req.Email)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": r.ID})
	}
}

// handleHistory は受信者の通知履歴を古い順に返すハンドラ。
func (s *Server) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID, ok := parseID(c, c.Param("id"))
		if !ok {
			return
		}

		items, err := s.service.History(c.Request.Context(), recipientID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(items))
	}
}

// parseID はパスまたはクエリの受信者IDを解析する。不正な場合は400を返してfalseになる。
func parseID(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "受信者IDが不正です"})
		return 0, false
	}
	return id, true
}

// writeError は分類済みエラーをHTTPレスポンスに変換する。5xxは原因をログに残す。
func (s *Server) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("リクエスト処理に失敗しました",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "内部サーバーエラーが発生しました"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
