// アラームサービスのエントリポイント。
// テナントからのアラーム発報を受け付けて保存し、テナント内の受信者へ
// 通知サービス経由で配信する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nao1215/siren/internal/alarm"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/logger"
)

func main() {
	configPath := pflag.String("config", "", "設定ファイル（YAML）のパス")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "アラームサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load("alarm", configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "alarm")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.DevMode {
		log.Warn("開発モードで起動します。POST /auth/dev-token が有効です")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := alarm.NewServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warn("リソースの解放に失敗しました", zap.Error(err))
		}
	}()

	return server.Run(ctx)
}
