package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sanosuguru/go-multistore-tx/internal/api/handler"
	"github.com/sanosuguru/go-multistore-tx/internal/api/router"
	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/config"
	"github.com/sanosuguru/go-multistore-tx/internal/infrastructure/memory"
	"github.com/sanosuguru/go-multistore-tx/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/metrics"
	"github.com/sanosuguru/go-multistore-tx/internal/worker"
)

const (
	countCacheTTL   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logger.Set(logger.NewLogger(cfg.Env, cfg.LogLevel))
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("サーバー起動エラー", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	m := metrics.Init()
	registry := application.NewStoreRegistry()
	var checks []handler.HealthCheck

	// インメモリストア
	for _, name := range cfg.Stores.Memory {
		s, err := memory.NewSnapshotStore(name, nil)
		if err != nil {
			return err
		}
		if err := registry.Register(s); err != nil {
			return err
		}
	}

	// PostgreSQL ストア
	if cfg.Database.Enabled {
		db, err := postgres.NewConnection(&cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
			return err
		}
		for _, name := range cfg.Stores.Postgres {
			s, err := postgres.NewRecordStore(db, name)
			if err != nil {
				return err
			}
			if err := registry.Register(s); err != nil {
				return err
			}
		}
		checks = append(checks, handler.HealthCheck{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		})
		logger.Info("PostgreSQL に接続しました", zap.Strings("stores", cfg.Stores.Postgres))
	} else if len(cfg.Stores.Postgres) > 0 {
		return fmt.Errorf("STORES_POSTGRES が指定されていますが PostgreSQL が無効です")
	}

	// Redis: ロック・ジャーナル・行数キャッシュ
	var (
		locker  application.ScopeLocker
		journal application.Journal
		cache   application.CountCache
	)
	if cfg.Redis.Enabled {
		client, err := redisinfra.NewClient(&redisinfra.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		j, err := redisinfra.NewJournal(client, cfg.Journal.Name, cfg.Journal.MaxLength)
		if err != nil {
			return err
		}
		locker = application.NewRedisScopeLocker(redisinfra.NewLockManager(client), cfg.Lock, m)
		journal = j
		cache = redisinfra.NewCountCache(client, countCacheTTL)
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisinfra.Ping(ctx, client) },
		})
		logger.Info("Redis に接続しました", zap.String("addr", cfg.Redis.Addr()))
	}

	service := application.NewQueryService(registry, locker, journal, cache, m)
	monitor := worker.NewCheckpointMonitor(service, m, cfg.Worker.CheckpointInterval)

	e := router.New(router.Options{
		Service:      service,
		HealthChecks: checks,
		Metrics:      m,
		MetricsAuth:  cfg.Metrics,
	})
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("サーバー起動",
			zap.String("port", cfg.Server.Port),
			zap.Strings("stores", registry.Names()),
		)
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		monitor.Start(gctx)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("サーバーをシャットダウンしています...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーシャットダウンエラー: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("サーバーが正常にシャットダウンしました")
	return nil
}
