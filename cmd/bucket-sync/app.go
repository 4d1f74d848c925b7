package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/bucket-sync/internal/config"
	"github.com/alexjbarnes/bucket-sync/internal/manager"
	"github.com/alexjbarnes/bucket-sync/internal/reconcile"
	"github.com/alexjbarnes/bucket-sync/internal/remote/localstore"
	"github.com/alexjbarnes/bucket-sync/internal/remote/s3store"
	"github.com/alexjbarnes/bucket-sync/internal/sqlstore"
	"github.com/alexjbarnes/bucket-sync/internal/state"
)

// repository is a metadata repository that owns a database handle.
type repository interface {
	reconcile.Repository
	Close() error
}

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	repo   repository
	mgr    *manager.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		repo.Close()
		return nil, err
	}

	mgr := manager.New(store, repo, logger,
		manager.WithDownloadDir(cfg.DownloadDir),
		manager.WithConcurrency(cfg.UploadConcurrency),
	)

	return &app{cfg: cfg, logger: logger, repo: repo, mgr: mgr}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

func openRepository(cfg *config.Config) (repository, error) {
	switch cfg.StateBackend {
	case config.StateSQLite:
		repo, err := sqlstore.OpenSQLite(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite metadata: %w", err)
		}
		return repo, nil
	case config.StatePostgres:
		repo, err := sqlstore.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres metadata: %w", err)
		}
		return repo, nil
	default:
		repo, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("loading state: %w", err)
		}
		return repo, nil
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (manager.Store, error) {
	if cfg.StoreBackend == config.StoreLocal {
		store, err := localstore.New(cfg.LocalStoreDir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening local store: %w", err)
		}
		return store, nil
	}

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening s3 store: %w", err)
	}

	return store, nil
}
