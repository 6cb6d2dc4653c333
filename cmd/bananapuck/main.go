package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/bananapuck/internal/config"
	"github.com/HerbHall/bananapuck/internal/dashboard"
	"github.com/HerbHall/bananapuck/internal/event"
	"github.com/HerbHall/bananapuck/internal/poller"
	"github.com/HerbHall/bananapuck/internal/registry"
	"github.com/HerbHall/bananapuck/internal/server"
	"github.com/HerbHall/bananapuck/internal/store"
	"github.com/HerbHall/bananapuck/internal/version"
	"github.com/HerbHall/bananapuck/internal/vitals"
	"github.com/HerbHall/bananapuck/internal/ws"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			os.Exit(runExport(os.Args[2:], os.Stdout, os.Stderr))
		case "report":
			os.Exit(runReport(os.Args[2:], os.Stdout, os.Stderr))
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("BananaPuck server starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := viperCfg.GetString("database.path")
	db, err := openDatabase(ctx, dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all plugins (compile-time composition)
	vitalsModule := vitals.New()
	modules := []plugin.Plugin{
		vitalsModule,
		poller.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	srvCfg := server.DefaultConfig()
	if err := config.Decode(cfg.Sub("server"), &srvCfg); err != nil {
		logger.Fatal("invalid server configuration", zap.Error(err))
	}

	wsHandler := ws.NewHandler(vitalsModule.Store(), bus, srvCfg.AllowedOrigins, logger.Named("ws"))
	logger.Info("websocket handler initialized", zap.String("component", "ws"))

	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.Ping(ctx)
	})
	srv := server.New(srvCfg, reg, logger, readyCheck, wsHandler, dashboard.Routes{})

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("BananaPuck server ready", zap.String("addr", srvCfg.Addr()))
	fmt.Fprintf(os.Stderr, "\n  BananaPuck %s is ready!\n  Open http://localhost:%d in your browser.\n\n", version.Short(), srvCfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	wsHandler.Close()
	// Reverse start order stops the pollers before vitals. State is already
	// saved after every mutation, so nothing is flushed here.
	reg.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("BananaPuck server stopped")
}

// openDatabase opens the SQLite file, creating its directory, and refuses
// a database written by a newer binary.
func openDatabase(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
