package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	coordadapter "github.com/aeriedb/aerie/internal/adapter/coord"
	"github.com/aeriedb/aerie/internal/broker"
	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/api"
	"github.com/aeriedb/aerie/pkg/config"
	"github.com/aeriedb/aerie/pkg/coord/master"
	"github.com/aeriedb/aerie/pkg/coord/session"
	"github.com/aeriedb/aerie/pkg/metrics"
	"github.com/aeriedb/aerie/pkg/namespace"
	"github.com/aeriedb/aerie/pkg/namespace/badgerstore"
	"github.com/aeriedb/aerie/pkg/namespace/memstore"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Aerie server",
	Long: `Start the coordination service, and optionally the DFS broker and
the admin API, using the resolved configuration.

Examples:
  # Start with the default config location
  aeried start

  # Start with a custom config file
  aeried start --config /etc/aerie/config.yaml

  # Override via environment
  AERIE_LOGGING_LEVEL=DEBUG aeried start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	logger.Info("starting aeried",
		"version", Version,
		"commit", Commit,
		"store", cfg.Store.Backend)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := master.New(master.Config{
		Lease: session.Config{
			LeaseDuration: cfg.Lease.Duration,
			GraceMargin:   cfg.Lease.GraceMargin,
			SweepInterval: cfg.Lease.SweepInterval,
		},
		MaxLockWaiters: cfg.Lock.MaxWaiters,
	}, store)
	if err != nil {
		return fmt.Errorf("construct master: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	coordSrv := coordadapter.NewServer(cfg.Server.ListenAddr, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coordSrv.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("coordination server: %w", err)
		}
	}()

	if cfg.Broker.Enabled {
		backend, berr := broker.NewLocalBackend(cfg.Broker.RootDir)
		if berr != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("broker backend: %w", berr)
		}
		brokerSrv := broker.NewServer(cfg.Broker.ListenAddr, backend)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := brokerSrv.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("broker: %w", err)
			}
		}()
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(api.Config{
			ListenAddr:     cfg.API.ListenAddr,
			RequestTimeout: cfg.API.RequestTimeout,
		}, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiSrv.Start(); err != nil {
				errCh <- fmt.Errorf("admin API: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", logger.KeyError, err.Error())
		cancel()
		wg.Wait()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if apiSrv != nil {
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin API shutdown failed", logger.KeyError, err.Error())
		}
	}
	cancel()
	wg.Wait()

	logger.Info("aeried stopped")
	return nil
}

func openStore(cfg *config.Config) (namespace.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.New(), nil
	default:
		store, err := badgerstore.Open(badgerstore.Options{Dir: cfg.Store.Dir})
		if err != nil {
			return nil, fmt.Errorf("open namespace store: %w", err)
		}
		return store, nil
	}
}
