// pdmd is the predictive-maintenance telemetry store daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aispark/pdmcore/internal/loader"
	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/server"
	"github.com/aispark/pdmcore/internal/storage"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dbPath := flag.String("db", "", "metastore database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	provision := flag.String("provision", "", "provisioning file of clients and machines")
	watch := flag.Bool("watch", false, "watch the provisioning file for changes")
	plan := flag.Bool("plan", false, "print resource requirements and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.Metastore.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if *plan {
		req := cfg.CalculateRequirements()
		fmt.Print(req.FormatRequirements())
		return
	}

	logging.Init(parseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("pdmd")
	log.Info("starting", "version", Version, "config", *cfgPath)

	// Metastore first: everything else depends on it
	st, err := store.New(store.Config{Path: cfg.MetastorePath()})
	if err != nil {
		log.Error("open metastore", "error", err)
		os.Exit(1)
	}

	svc, err := storage.New(cfg, st)
	if err != nil {
		log.Error("create storage service", "error", err)
		st.Close()
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		log.Error("start storage service", "error", err)
		st.Close()
		os.Exit(1)
	}
	log.Info("storage service started",
		"data_dir", cfg.DataDir,
		"raw_retention", cfg.Retention.Raw,
		"daily_retention", cfg.Retention.Daily)

	if *provision != "" {
		p, err := loader.Load(*provision)
		if err != nil {
			log.Error("load provisioning", "error", err)
			os.Exit(1)
		}
		result, _ := loader.Apply(context.Background(), p, st)
		for _, e := range result.Errors {
			log.Warn("provisioning", "error", e)
		}

		if *watch {
			watcher := loader.NewWatcher(*provision, st, func(result *loader.ApplyResult) {
				log.Info("provisioning reloaded",
					"clients_created", result.ClientsCreated,
					"machines_created", result.MachinesCreated,
					"errors", len(result.Errors))
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	srv := server.New(server.Config{Listen: cfg.Server.Listen}, svc, st)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("shutting down", "signal", s.String())

		// Stop accepting requests, then flush and close storage, then
		// close the metastore the storage layer writes to.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		if err := svc.Stop(); err != nil {
			log.Warn("storage stop", "error", err)
		}
		if err := st.Close(); err != nil {
			log.Warn("metastore close", "error", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch s {
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
