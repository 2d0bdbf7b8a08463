package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wplaunch/internal/config"
	"wplaunch/internal/database"
	"wplaunch/internal/handlers"
	"wplaunch/internal/installer"
	"wplaunch/internal/logging"
	"wplaunch/internal/metrics"
	"wplaunch/internal/notify"
	"wplaunch/internal/secrets"
	"wplaunch/internal/services"
	"wplaunch/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Init store
	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.Close()

	// 3. Progress hub, optionally shared across instances
	hub := notify.NewHub(logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, progress stays local", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			relay := notify.NewRedisRelay(rdb, logger)
			hub.SetRelay(relay)
			go relay.Run(ctx, hub)
			logger.Info("progress relay enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// 4. Services
	box := secrets.NewBox(cfg.SecretKey)
	if !box.Enabled() {
		logger.Warn("SECRET_KEY is not set, hosting passwords are stored unencrypted")
	}
	renderer, err := installer.NewRenderer()
	if err != nil {
		logger.Fatal("failed to load installer templates", zap.Error(err))
	}

	connector := services.NewCPanelConnector(cfg, m, logger)
	creds := services.NewCredentialService(st, connector, box, logger)
	templates := services.NewTemplateRegistry(cfg, logger)
	downloader := services.NewDownloader(cfg.DeployTimeout)
	orch := services.NewOrchestrator(cfg, services.OrchestratorDeps{
		Jobs:      st,
		Creds:     creds,
		Connector: connector,
		Stager:    services.NewFileStager(cfg, templates, downloader, renderer, logger),
		Domains:   services.NewDomainService(),
		Trigger:   services.NewDownloader(0),
		Metrics:   m,
	}, logger)
	jobs := services.NewJobService(st, cfg.UploadsDir, orch.IsRunning, logger)

	sweeper := services.NewSweeper(cfg, st, orch.IsRunning, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logger.Fatal("invalid sweep schedule", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}

	// 5. API Server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(handlers.RequestLogger(logger.Named("access")))
	e.Use(handlers.Metrics(m))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	handlers.RegisterRoutes(e, handlers.Deps{
		Jobs:         jobs,
		Credentials:  creds,
		Orchestrator: orch,
		Templates:    templates,
		Hub:          hub,
		Gatherer:     prometheus.DefaultGatherer,
		Log:          logger,
	})

	go func() {
		logger.Info("wplaunch starting", zap.String("addr", cfg.ServerAddr), zap.String("env", cfg.Environment))
		if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		if err := database.InitDB(cfg.DatabasePath, logger); err != nil {
			return nil, err
		}
		return store.NewSQLStore(database.DB), nil
	case "", "file":
		return store.NewFileStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
