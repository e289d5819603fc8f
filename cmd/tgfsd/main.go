// Command tgfsd wires configuration, the metadata store, the chunk
// cache, the account pool and the orchestrator together and serves the
// admin HTTP surface. Flag/command wiring follows the teacher's
// cmd/loadtest/main.go, replacing its flag-driven gateway lifecycle
// with a cobra command driving the storage engine daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mvance/tgfs/internal/account"
	"github.com/mvance/tgfs/internal/adminapi"
	"github.com/mvance/tgfs/internal/audit"
	"github.com/mvance/tgfs/internal/cache"
	"github.com/mvance/tgfs/internal/ckdf"
	"github.com/mvance/tgfs/internal/config"
	"github.com/mvance/tgfs/internal/debug"
	"github.com/mvance/tgfs/internal/erasure"
	"github.com/mvance/tgfs/internal/metadata"
	"github.com/mvance/tgfs/internal/metrics"
	"github.com/mvance/tgfs/internal/middleware"
	"github.com/mvance/tgfs/internal/orchestrator"
	"github.com/mvance/tgfs/internal/pool"
	"github.com/mvance/tgfs/internal/telemetry"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "tgfsd",
		Short: "tgfsd serves an encrypted, content-addressed, erasure-coded filesystem storage engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "tgfs.yaml", "path to the tgfsd configuration file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "inspect the resolved configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "print the fully resolved configuration (defaults + file + env) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	debug.InitFromLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	mk, err := ckdf.FromPassword([]byte(cfg.Encryption.Password), nil, ckdf.Params{
		MemoryKiB:   cfg.Encryption.KDF.MemoryKiB,
		Iterations:  cfg.Encryption.KDF.Iterations,
		Parallelism: cfg.Encryption.KDF.Parallelism,
	})
	if err != nil {
		return fmt.Errorf("deriving master key: %w", err)
	}

	metaKey, err := mk.MetadataKey()
	if err != nil {
		return fmt.Errorf("deriving metadata key: %w", err)
	}
	store, err := metadata.Open(cfg.Metadata.Path, metaKey, cfg.Metadata.Namespace)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	chunkCache, err := cache.Open(cfg.Cache.Dir, uint64(cfg.Cache.MaxSizeBytes), cfg.Cache.PrefetchEnabled)
	if err != nil {
		return fmt.Errorf("opening chunk cache: %w", err)
	}

	var backends []pool.Backend
	for _, a := range cfg.Pool.Accounts {
		client, err := account.NewClient(ctx, account.BackendConfig{
			ID:        a.ID,
			Provider:  a.Provider,
			Region:    a.Region,
			Endpoint:  a.Endpoint,
			Bucket:    a.Bucket,
			AccessKey: a.AccessKey,
			SecretKey: a.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("constructing client for account %d: %w", a.ID, err)
		}
		backends = append(backends, pool.Backend{ID: a.ID, Client: client})
	}

	p, err := pool.New(backends, pool.Config{DataShards: cfg.Pool.DataShards, ParityShards: cfg.Pool.ParityShards})
	if err != nil {
		return fmt.Errorf("constructing account pool: %w", err)
	}

	if degraded, err := p.ConnectAll(ctx); err != nil {
		return fmt.Errorf("connecting to accounts: %w", err)
	} else if degraded {
		logger.Warn("starting in degraded mode: one or more accounts unreachable")
	}

	codec, err := erasure.New(cfg.Pool.DataShards, cfg.Pool.DataShards+cfg.Pool.ParityShards)
	if err != nil {
		return fmt.Errorf("constructing erasure codec: %w", err)
	}

	orch := orchestrator.New(mk, store, chunkCache, p, codec, logger)
	orch.SetChunkerOptions(orchestrator.ChunkerOptions{
		CompressionEnabled:   cfg.Chunker.CompressionEnabled,
		CompressionLevel:     cfg.Chunker.CompressionLevel,
		CompressionThreshold: cfg.Chunker.CompressionThreshold,
		DedupEnabled:         cfg.Chunker.DedupEnabled,
	})
	_ = orch // wired for future filesystem front-end; exercised directly by internal/orchestrator's own tests

	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
		if err != nil {
			return fmt.Errorf("constructing audit logger: %w", err)
		}
		orch.SetAuditLogger(auditLogger)
		defer auditLogger.Close()
	}

	m := metrics.NewMetrics()
	m.StartSystemMetricsCollector(ctx)

	handler := adminapi.NewHandler(p, chunkCache, store, logger, m)
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("tgfsd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("admin server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
