package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gorm.io/gorm"

	"duet/internal/command"
	"duet/internal/config"
	dbmodel "duet/internal/db"
	"duet/internal/dispatch"
	"duet/internal/engine"
	"duet/internal/global"
	"duet/internal/lifecycle"
	"duet/internal/localapi"
	"duet/internal/logging"
)

var version = "dev"

var httpShutdownTimeout = 3 * time.Second

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:   resolveConfig,
		RunServe:     runServe,
		RunMigrateUp: runMigrateUp,
		OpenCaller: func(_ context.Context, cfg config.Config) (command.Caller, func() error, error) {
			logger := newRuntimeLogger(cfg)
			eng, gdb, err := openEngine(cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return dispatch.New(eng, logger.With("module", "dispatch")), func() error { return dbmodel.Close(gdb) }, nil
		},
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		if errors.Is(err, command.ErrCallFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "duet:", err)
		os.Exit(1)
	}
}

// resolveConfig layers DUET_* variables over the config file in the config dir.
func resolveConfig() (config.Config, error) {
	cfg := config.LoadConfig()
	if cfg.ConfigDir == "" {
		dir, err := global.DefaultConfigDir()
		if err != nil {
			return config.Config{}, err
		}
		cfg.ConfigDir = dir
	}
	file, err := global.NewConfigStore(cfg.ConfigDir).LoadOrInit()
	if err != nil {
		return config.Config{}, err
	}
	return config.Merge(cfg, config.FileDefaults{
		ProjectID:       file.ProjectID,
		LocalPort:       file.LocalPort,
		BusyTimeoutMS:   file.BusyTimeoutMS,
		DefaultPageSize: file.DefaultPageSize,
	}), nil
}

func newRuntimeLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    os.Stderr,
		Component: "duet",
	}).With("project_id", cfg.ProjectID)
}

func openEngine(cfg config.Config, logger *slog.Logger) (*engine.Engine, *gorm.DB, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, nil, errors.New("database path is not configured")
	}
	gdb, err := dbmodel.OpenSQLiteWithMigrations(cfg.DBPath, dbmodel.Options{
		BusyTimeout: cfg.BusyTimeout(),
		Logger:      logger.With("module", "db"),
	})
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(gdb, engine.Options{
		ProjectID:       cfg.ProjectID,
		Logger:          logger.With("module", "engine"),
		DefaultPageSize: cfg.DefaultPage,
	})
	if err != nil {
		_ = dbmodel.Close(gdb)
		return nil, nil, err
	}
	return eng, gdb, nil
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("database path is not configured")
	}
	logger := newRuntimeLogger(cfg)
	gdb, err := dbmodel.OpenSQLiteWithMigrations(cfg.DBPath, dbmodel.Options{
		BusyTimeout: cfg.BusyTimeout(),
		Logger:      logger.With("module", "db"),
	})
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "db_path", cfg.DBPath)
	return dbmodel.Close(gdb)
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := newRuntimeLogger(cfg)
	eng, gdb, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}

	srv := localapi.NewServer(localapi.Deps{
		Caller:    dispatch.New(eng, logger.With("module", "dispatch")),
		ProjectID: cfg.ProjectID,
		Logger:    logger.With("module", "localapi"),
	})
	eng.Subscribe(srv.PublishEvent)

	addr := fmt.Sprintf("%s:%d", cfg.LocalHost, cfg.LocalPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("local api listening", "addr", "http://"+addr, "db_path", cfg.DBPath, "version", version)

	mgr := lifecycle.NewManager(lifecycle.Options{Logger: logger.With("module", "lifecycle")})
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		return dbmodel.Close(gdb)
	})
	mgr.AddShutdown("http-server-shutdown", func(context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return mgr.StartAndWait(ctx)
}
