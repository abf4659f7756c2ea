package alarm

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/httpclient"
	"github.com/nao1215/siren/pkg/middleware"
	"github.com/nao1215/siren/pkg/migration"
)

const (
	// shutdownTimeout は停止時に処理中のリクエストを待つ上限。
	shutdownTimeout = 10 * time.Second
	// devTokenTTL は開発用オペレータートークンの有効期間。
	devTokenTTL = 24 * time.Hour
	// serviceName はサービス間トークンの主体。
	serviceName = "alarm"
)

// Server はアラームサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg config.Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// auth はテナントキーとロールによる認可。
	auth *AuthGate
	// store はアラームの保存。
	store *AlarmStore
	// resolver は受信者の決定。
	resolver *RecipientResolver
	// dispatcher は受信者ごとの配信。
	dispatcher *Dispatcher
	// directory はテナントとユーザーの登録。
	directory *Directory
	// registry はこのサーバー専用のメトリクスレジストリ。
	registry *prometheus.Registry
	// metrics はアラームサービスのメトリクス。
	metrics *Metrics
	logger  *zap.Logger
}

// deps はServerの差し替え可能な外部依存。
type deps struct {
	deliverer Deliverer
	registrar RecipientRegistrar
}

// NewServer は新しいアラームサーバーを生成する。
// SQLiteデータベースを開いてマイグレーションを適用し、通知サービスへのクライアントを用意する。
func NewServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if _, err := migration.Run(ctx, sqlDB, alarmdb.Migrations, alarmdb.MigrationsDir, logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	client := httpclient.New(cfg.NotificationURL,
		httpclient.WithTimeout(cfg.Dispatch.Timeout),
		httpclient.WithTokenSource(middleware.ServiceTokenSource(cfg.ServiceSecret, serviceName)),
	)
	s, err := newServer(cfg, sqlDB, deps{
		deliverer: NewHTTPDeliverer(client),
		registrar: NewHTTPRecipientRegistrar(client),
	}, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// newServer は依存を組み立ててルーティングを設定する。
func newServer(cfg config.Config, sqlDB *sql.DB, d deps, logger *zap.Logger) (*Server, error) {
	policy, err := ParseRecipientPolicy(cfg.RecipientPolicy)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	queries := alarmdb.New(sqlDB)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:     router,
		cfg:        cfg,
		db:         sqlDB,
		auth:       NewAuthGate(queries),
		store:      NewAlarmStore(queries),
		resolver:   NewRecipientResolver(queries, policy),
		dispatcher: NewDispatcher(d.deliverer, cfg.Dispatch.Concurrency, cfg.Dispatch.Timeout, logger, metrics),
		directory:  NewDirectory(sqlDB, d.registrar, logger, metrics),
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
	}
	s.setupRoutes()
	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するまでリクエストを処理する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go s.syncRecipientsLoop(syncCtx)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("アラームサービスを起動します", zap.String("addr", srv.Addr))
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
	s.logger.Info("アラームサービスを停止しました")
	return nil
}

// syncRecipientsLoop は起動時と一定間隔ごとに受信者を通知サービスへ登録し直す。
func (s *Server) syncRecipientsLoop(ctx context.Context) {
	s.syncRecipients(ctx)
	if s.cfg.RecipientSyncInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.RecipientSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncRecipients(ctx)
		}
	}
}

func (s *Server) syncRecipients(ctx context.Context) {
	if _, err := s.directory.SyncRecipients(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("受信者の同期に失敗しました", zap.Error(err))
	}
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// テナントキーの確認
	s.router.POST("/tenant-key/validate", s.handleValidateKey())
	// アラーム発報（テナントキーはリクエストボディで受け取る）
	s.router.POST("/alarms", s.handleCreateAlarm())

	tenant := s.router.Group("/tenants")
	tenant.Use(s.RequireTenant())
	{
		tenant.GET("/:id/alarms", s.handleListAlarms())
	}

	users := s.router.Group("/users")
	users.Use(s.RequireElevated())
	{
		users.POST("", s.handleCreateUser())
		users.GET("", s.handleListUsers())
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.JWTAuth(s.cfg.JWTSecret, middleware.RoleOperator))
	{
		admin.POST("/tenants", s.handleCreateTenant())
	}

	if s.cfg.DevMode {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "online", "version": s.cfg.Version, "react": "pong"})
	})
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "alarm"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// writeError は分類済みエラーをHTTPレスポンスに変換する。5xxは原因をログに残す。
func (s *Server) writeError(c *gin.Context, err error) {
	status, body := s.errorResponse(c, err)
	c.JSON(status, body)
}

// abortWithError はwriteErrorと同じレスポンスを返して後続のハンドラを止める。
func (s *Server) abortWithError(c *gin.Context, err error) {
	status, body := s.errorResponse(c, err)
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) errorResponse(c *gin.Context, err error) (int, gin.H) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("リクエスト処理に失敗しました",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		return status, gin.H{"error": "内部サーバーエラーが発生しました"}
	}
	return status, gin.H{"error": err.Error()}
}

// parsePathID はパスパラメータの数値IDを解析する。
func parsePathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IDが不正です"})
		return 0, false
	}
	return id, true
}
