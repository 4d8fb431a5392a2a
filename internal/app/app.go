package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/shifu-backend/internal/data/db"
	"github.com/yungbote/shifu-backend/internal/http"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *db.Service
	Server   *http.Server
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	var metrics *observability.Metrics
	if cfg.Metrics {
		metrics = observability.Init()
	}

	database, err := openDatabase(log, cfg, cfg.Server.AutoMigrate)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = database.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	reposet := wireRepos(database.DB(), log)
	serviceset, err := wireServices(log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close(log)
		_ = database.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, metrics)
	middleware := wireMiddleware(log, cfg)
	server := wireServer(log, cfg, handlerset, middleware, metrics)

	return &App{
		Log:          log,
		DB:           database,
		Server:       server,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Migrate creates the schema and declares the system profile keys.
func Migrate(log *logger.Logger, cfg Config) error {
	database, err := openDatabase(log, cfg, true)
	if err != nil {
		return err
	}
	return database.Close()
}

func openDatabase(log *logger.Logger, cfg Config, migrate bool) (*db.Service, error) {
	database, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if !migrate {
		return database, nil
	}
	if err := db.AutoMigrateAll(database.DB()); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	if err := db.SeedSystemProfileKeys(database.DB()); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("seed profile keys: %w", err)
	}
	log.Info("schema migrated")
	return database, nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	addr := ":" + a.Cfg.Server.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(ctx, addr, a.Cfg.Server.ShutdownGrace)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	a.Clients.Close(a.Log)
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
