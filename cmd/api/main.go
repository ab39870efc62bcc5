package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/infra/db"
	"storefront/internal/infra/memory"
	infraRepo "storefront/internal/infra/repository"
	applog "storefront/internal/logger"
	"storefront/internal/server"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := applog.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := server.New(cfg, log, backend)
	return server.Start(ctx, e, cfg.Addr(), log)
}

// STORAGE_DRIVER でリポジトリ実装を切り替える
func newBackend(cfg config.Config, log *zap.Logger) (server.Backend, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Info("storage: memory")
		store := memory.New()
		return server.Backend{
			Tx:        store,
			Products:  store.Products(),
			Carts:     store.Carts(),
			CartItems: store.CartItems(),
		}, nil
	default:
		//DB接続
		gormDB, err := db.Connect(cfg, log.Named("gorm"))
		if err != nil {
			return server.Backend{}, err
		}
		if err := db.Migrate(gormDB); err != nil {
			return server.Backend{}, fmt.Errorf("migrate: %w", err)
		}
		log.Info("storage: postgres")

		//Repository（GORM実装）生成
		carts := infraRepo.NewCartGormRepository(gormDB)
		return server.Backend{
			Tx:        infraRepo.NewTxManagerGorm(gormDB),
			Products:  infraRepo.NewProductGormRepository(gormDB),
			Carts:     carts,
			CartItems: carts,
		}, nil
	}
}
