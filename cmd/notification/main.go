// 通知サービスのエントリポイント。
// アラームサービスから届いた通知を受信者ごとに保存し、
// 接続中のクライアントへWebSocketとServer-Sent Eventsで配信する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nao1215/siren/internal/notification"
	"github.com/nao1215/siren/pkg/config"
	"github.com/nao1215/siren/pkg/logger"
)

func main() {
	configPath := pflag.String("config", "", "設定ファイル（YAML）のパス")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load("notification", configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "notification")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg, log)
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
