package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelmind.ai/internal/agent/bridge"
	"voxelmind.ai/internal/agent/mcp"
	"voxelmind.ai/internal/config"
	"voxelmind.ai/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, envErr := config.ParseMCP()
	requireHMAC := cfg.HMACRequired()
	allowLegacy := cfg.LegacyHMACAllowed()

	cmd := &cobra.Command{
		Use:          "mcp",
		Short:        "Expose voxelmind sessions as MCP tools for agents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			cfg.RequireHMAC = &requireHMAC
			cfg.AllowLegacyHMAC = &allowLegacy
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.DevLog)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "http listen address (VM_MCP_LISTEN)")
	f.StringVar(&cfg.ServerWSURL, "server-ws", cfg.ServerWSURL, "voxelmind websocket url (VM_MCP_SERVER_WS_URL)")
	f.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "persisted per-agent state (VM_MCP_STATE_FILE)")
	f.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "max concurrent agent sessions (VM_MCP_MAX_SESSIONS)")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "seed sent in HELLO; 0 lets the server pick (VM_MCP_SEED)")
	f.StringVar(&cfg.HMACSecret, "hmac-secret", cfg.HMACSecret, "HMAC secret for /mcp requests (VM_MCP_HMAC_SECRET)")
	f.BoolVar(&requireHMAC, "require-hmac", requireHMAC, "refuse to start without an HMAC secret (VM_MCP_REQUIRE_HMAC)")
	f.BoolVar(&allowLegacy, "allow-legacy-hmac", allowLegacy, "accept v1 signatures without a nonce (VM_MCP_HMAC_ALLOW_LEGACY)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error (VM_LOG_LEVEL)")
	f.BoolVar(&cfg.DevLog, "dev-log", cfg.DevLog, "human-readable console logs (VM_DEV_LOG)")
	return cmd
}

func run(ctx context.Context, cfg config.MCPConfig, logger *zap.Logger) error {
	br, err := bridge.NewManager(bridge.Config{
		ServerWSURL: cfg.ServerWSURL,
		StateFile:   cfg.StateFile,
		MaxSessions: cfg.MaxSessions,
		Seed:        cfg.Seed,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer func() { _ = br.Close() }()

	srvMCP, err := mcp.NewServer(mcp.Config{
		Bridge:          br,
		HMACSecret:      cfg.HMACSecret,
		AllowLegacyHMAC: cfg.LegacyHMACAllowed(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srvMCP.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mcp listening",
			zap.String("addr", cfg.Listen),
			zap.String("server_ws", cfg.ServerWSURL),
			zap.Bool("hmac", cfg.HMACSecret != ""),
		)
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
	logger.Info("mcp stopped")
	return err
}
