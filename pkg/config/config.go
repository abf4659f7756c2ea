// Package config はサービスの設定を読み込む。
//
// 既定値、YAMLファイル、環境変数の順に値を重ねる。読み込んだ設定は
// 起動時に各サーバーへ明示的に渡し、実行中に書き換えることはない。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// DBPath はSQLiteデータベースのDSN。
	DBPath string `yaml:"db_path"`
	// Version は /ping で返すバージョン文字列。
	Version string `yaml:"version"`
	// JWTSecret はオペレーター用JWTの署名鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// ServiceSecret はサービス間トークンの署名鍵。
	ServiceSecret string `yaml:"service_secret"`
	// DevMode が真の場合は開発用トークン発行エンドポイントを有効にする。
	DevMode bool `yaml:"dev_mode"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// NotificationURL は通知サービスのベースURL。
	NotificationURL string `yaml:"notification_url"`
	// Dispatch は通知ファンアウトの設定。
	Dispatch DispatchConfig `yaml:"dispatch"`
	// RecipientPolicy は受信者の選定ルール（"alarmed_admin" または "alarmed"）。
	RecipientPolicy string `yaml:"recipient_policy"`
	// RecipientSyncInterval は通知サービスへ受信者を登録し直す間隔。0なら起動時の1回だけ。
	RecipientSyncInterval time.Duration `yaml:"recipient_sync_interval"`
	// Broker はライブ配信に使うPub/Subの設定。
	Broker BrokerConfig `yaml:"broker"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DispatchConfig は通知ファンアウトの設定。
type DispatchConfig struct {
	// Concurrency は同時に実行する配信呼び出しの上限。
	Concurrency int `yaml:"concurrency"`
	// Timeout は配信呼び出し1回あたりのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
}

// BrokerConfig はPub/Subブローカーの設定。
type BrokerConfig struct {
	// Kind は "memory" または "redis"。
	Kind string `yaml:"kind"`
	// BufferSize は購読者ごとのバッファ長。
	BufferSize int `yaml:"buffer_size"`
	// RedisAddr はRedisのアドレス。
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `yaml:"redis_password"`
	// RedisDB はRedisのDB番号。
	RedisDB int `yaml:"redis_db"`
}

// SQLitePragmas はmodernc.org/sqliteのDSNに付けるPRAGMA指定。
// WALで読み書きを並行させ、ロック待ちは5秒まで許す。
const SQLitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Default はサービスごとの既定設定を返す。
func Default(service string) Config {
	cfg := Config{
		Version:               "dev",
		JWTSecret:             "dev-secret-key",
		ServiceSecret:         "dev-service-secret",
		AllowedOrigins:        []string{"http://localhost:3000"},
		Log:                   LogConfig{Level: "info", Format: "json"},
		NotificationURL:       "http://localhost:5001",
		Dispatch:              DispatchConfig{Concurrency: 8, Timeout: 5 * time.Second},
		RecipientPolicy:       "alarmed_admin",
		RecipientSyncInterval: 5 * time.Minute,
		Broker:                BrokerConfig{Kind: "memory", BufferSize: 64, RedisAddr: "localhost:6379"},
	}

	switch service {
	case "notification":
		cfg.Port = "5001"
		cfg.DBPath = "/data/notification.db" + SQLitePragmas
	default:
		cfg.Port = "8080"
		cfg.DBPath = "/data/alarm.db" + SQLitePragmas
	}
	return cfg
}

// Load は既定値にYAMLファイルと環境変数を重ねた設定を返す。
// pathが空の場合は環境変数 CONFIG_FILE を参照し、それも空ならファイルは読まない。
func Load(service, path string) (Config, error) {
	cfg := Default(service)

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.Version, "VERSION")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.ServiceSecret, "SERVICE_SECRET")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.NotificationURL, "NOTIFICATION_URL")
	setString(&cfg.RecipientPolicy, "RECIPIENT_POLICY")
	setString(&cfg.Broker.Kind, "BROKER")
	setString(&cfg.Broker.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Broker.RedisPassword, "REDIS_PASSWORD")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEV_MODEが不正です: %w", err)
		}
		cfg.DevMode = b
	}
	if v := os.Getenv("DISPATCH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_CONCURRENCYが不正です: %w", err)
		}
		cfg.Dispatch.Concurrency = n
	}
	if v := os.Getenv("DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_TIMEOUTが不正です: %w", err)
		}
		cfg.Dispatch.Timeout = d
	}
	if v := os.Getenv("RECIPIENT_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RECIPIENT_SYNC_INTERVALが不正です: %w", err)
		}
		cfg.RecipientSyncInterval = d
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DBが不正です: %w", err)
		}
		cfg.Broker.RedisDB = n
	}
	return nil
}

// validate は設定値の整合性を検証する。
func (c Config) validate() error {
	if c.Port == "" {
		return errors.New("portが設定されていません")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrencyは1以上である必要があります: %d", c.Dispatch.Concurrency)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeoutは正の値である必要があります: %s", c.Dispatch.Timeout)
	}
	if c.RecipientSyncInterval < 0 {
		return fmt.Errorf("recipient_sync_intervalは0以上である必要があります: %s", c.RecipientSyncInterval)
	}
	switch c.RecipientPolicy {
	case "alarmed_admin", "alarmed":
	default:
		return fmt.Errorf("recipient_policyが不正です: %q", c.RecipientPolicy)
	}
	switch c.Broker.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("broker.kindが不正です: %q", c.Broker.Kind)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
