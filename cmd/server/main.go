package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelmind.ai/internal/config"
	"voxelmind.ai/internal/logging"
	"voxelmind.ai/internal/sim/tuning"
	"voxelmind.ai/internal/transport/observer"
	"voxelmind.ai/internal/transport/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, envErr := config.Parse()
	admin := defaultEnableAdminHTTP()

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve mental-rotation sessions over websocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.DevLog)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalContext()
			defer cancel()
			return run(ctx, cfg, admin, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "http listen address (VM_ADDR)")
	f.StringVar(&cfg.DataDir, "data", cfg.DataDir, "runtime data directory (VM_DATA_DIR)")
	f.StringVar(&cfg.Tuning, "tuning", cfg.Tuning, "path to tuning.yaml (VM_TUNING)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error (VM_LOG_LEVEL)")
	f.BoolVar(&cfg.DevLog, "dev-log", cfg.DevLog, "human-readable console logs (VM_DEV_LOG)")
	f.BoolVar(&cfg.DisableDB, "disable-db", cfg.DisableDB, "disable the SQLite index (VM_DISABLE_DB)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite index path, default <data>/index.db (VM_DB_PATH)")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "fixed seed for sessions whose HELLO has none; 0 is random (VM_SEED)")
	f.StringVar(&cfg.IngestURL, "ingest-url", cfg.IngestURL, "optional HTTP ingest endpoint for outcomes (VM_INGEST_URL)")
	f.BoolVar(&admin, "admin-http", admin, "serve loopback-only /admin/v1 endpoints")
	return cmd
}

func run(ctx context.Context, cfg config.Config, admin bool, logger *zap.Logger) error {
	tune, err := tuning.Load(cfg.Tuning)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Warn("tuning not found; using defaults", zap.String("path", cfg.Tuning))
		tune = tuning.Defaults()
	}

	be, err := openBackends(ctx, cfg, tune, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Warn("close backends", zap.Error(err))
		}
	}()

	sink := be.sink()
	var hub *observer.Hub
	if admin {
		hub = observer.NewHub()
		sink.Outcomes = append(sink.Outcomes, hub)
		sink.Summaries = append(sink.Summaries, hub)
	}
	wsSrv := ws.NewServer(ws.Config{
		Tuning:      tune,
		Outcomes:    sink,
		Summaries:   sink,
		Logger:      logger,
		BaseContext: ctx,
		Seed:        seedFunc(cfg.Seed),
	})
	var obs *observer.Server
	if hub != nil {
		obs = observer.NewServer(observer.Config{
			Hub:         hub,
			Tuning:      tune,
			Active:      wsSrv.Metrics().SessionsActive,
			Logger:      logger,
			BaseContext: ctx,
		})
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: newMux(muxDeps{
			tuning:   tune,
			ws:       wsSrv,
			observer: obs,
			backends: be,
			logger:   logger,
			admin:    admin,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Int("max_level", tune.MaxLevel))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	// Hijacked websocket conns are not covered by Shutdown; they end with ctx.
	wsSrv.Wait()
	logger.Info("server stopped")
	return err
}

// seedFunc returns nil for a random seed per session.
func seedFunc(seed uint64) func() uint64 {
	if seed == 0 {
		return nil
	}
	return func() uint64 { return seed }
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
