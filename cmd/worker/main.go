package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maivankien/caro-online-server/internal/config"
	"github.com/maivankien/caro-online-server/internal/gamequeue"
	"github.com/maivankien/caro-online-server/internal/history"
	"github.com/maivankien/caro-online-server/internal/migrations"
	"github.com/maivankien/caro-online-server/internal/user"
)

// 完局結算 worker：消費完局任務，更新雙方 ELO 並寫入對局歷史。
// 可多實例部署，同一 Queue Group 內自動負載均衡。
func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var logger *slog.Logger
	if cfg.Log.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		logger.Error("解析 PostgreSQL 配置失敗", "error", err)
		os.Exit(1)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("連接 PostgreSQL 失敗", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	migrator, err := migrations.New(cfg.PostgresDSN(), logger)
	if err != nil {
		logger.Error("建立遷移管理器失敗", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("資料庫遷移失敗", "error", err)
		os.Exit(1)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("關閉遷移管理器失敗", "error", err)
	}

	queue, err := gamequeue.New(cfg.NATS.URL, cfg.NATS.StreamName, logger)
	if err != nil {
		logger.Error("連接 NATS 失敗", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	worker := gamequeue.NewWorker(
		queue,
		user.NewPostgresRepository(pgPool),
		history.NewPostgresRepository(pgPool),
		logger,
	)

	sub, err := worker.Start(cfg.NATS.QueueGroup)
	if err != nil {
		logger.Error("啟動 worker 失敗", "error", err)
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("收到關閉信號", "signal", sig)

	if err := sub.Drain(); err != nil {
		logger.Warn("排空訂閱失敗", "error", err)
	}
	logger.Info("worker 已停止")
}
