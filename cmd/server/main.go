package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/maivankien/caro-online-server/internal/ai"
	"github.com/maivankien/caro-online-server/internal/config"
	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/gamequeue"
	"github.com/maivankien/caro-online-server/internal/gateway"
	"github.com/maivankien/caro-online-server/internal/lock"
	"github.com/maivankien/caro-online-server/internal/matchmaking"
	"github.com/maivankien/caro-online-server/internal/migrations"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("連接 Redis 失敗", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// 連接 PostgreSQL
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

	// 執行資料庫遷移
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

	// 連接 NATS（完局結算隊列）
	queue, err := gamequeue.New(cfg.NATS.URL, cfg.NATS.StreamName, logger)
	if err != nil {
		logger.Error("連接 NATS 失敗", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	// 組裝業務核心
	bus := event.NewBus(logger)
	st := store.NewRedisStore(redisClient)
	locks := lock.NewManager(st, logger)
	users := user.NewPostgresRepository(pgPool)

	rooms := room.NewService(st, users, bus, logger)
	engine := ai.NewEngine()
	games := game.NewService(st, locks, bus, engine, logger, game.Config{
		CountdownFrom:     cfg.Game.CountdownFrom,
		CountdownInterval: cfg.Game.CountdownInterval,
		StartDebounce:     cfg.Game.StartDebounce,
		AIMoveDelay:       cfg.Game.AIMoveDelay,
		ReadyLockTTL:      cfg.Game.ReadyLockTTL,
		ReadyLockTimeout:  cfg.Game.ReadyLockTimeout,
	})
	mm := matchmaking.NewService(st, users, rooms, bus, logger, matchmaking.Config{
		RangeStep:  cfg.Matchmaking.RangeStep,
		MaxRange:   cfg.Matchmaking.MaxRange,
		RetryDelay: cfg.Matchmaking.RetryDelay,
		Timeout:    cfg.Matchmaking.Timeout,
	})

	// 對外閘道與事件路由
	hub := gateway.NewHub(rooms, games, mm, logger)
	hub.BindBus(bus)
	queue.BindBus(bus)

	// 閒置房間清理
	sweeper := room.NewSweeper(st, logger, cfg.Room.IdleExpiry, cfg.Room.SweepInterval)
	sweeper.Start(ctx)

	handler := gateway.NewHandler(rooms, mm, hub, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("伺服器啟動", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("伺服器錯誤", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		logger.Info("收到關閉信號", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sweeper.Stop()
		hub.Stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("關閉伺服器失敗", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				logger.Error("強制關閉伺服器失敗", "error", closeErr)
			}
		}
	}

	logger.Info("伺服器已停止")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
