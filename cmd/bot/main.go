package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelmind.ai/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		url      string
		cfg      playerConfig
		deadline time.Duration
		devLog   bool
	)
	cmd := &cobra.Command{
		Use:          "bot",
		Short:        "Play one full session against a server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New("info", devLog)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger = logger.Named("bot")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancel = context.WithTimeout(ctx, deadline)
			defer cancel()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			sum, err := newPlayer(conn, cfg, logger).play(ctx)
			if err != nil {
				return err
			}
			logger.Info("summary",
				zap.String("session", sum.SessionID),
				zap.Int("score", sum.Score),
				zap.Int("rounds", sum.Rounds),
				zap.Int("accuracy_pct", sum.Overall.AccuracyPct),
				zap.Int("near_miss_accuracy_pct", sum.NearMiss.AccuracyPct),
				zap.Int64("mean_rt_ms", sum.Overall.MeanRTMs),
			)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&url, "url", "ws://localhost:8080/v1/ws", "ws url")
	f.StringVar(&cfg.Participant, "participant", "bot", "participant hint sent in HELLO")
	f.Uint64Var(&cfg.Seed, "seed", 0, "session seed; 0 lets the server choose")
	f.Float64Var(&cfg.ErrorRate, "error-rate", 0.1, "fraction of answers deliberately wrong")
	f.Float64Var(&cfg.TimeoutRate, "timeout-rate", 0, "fraction of trials left unanswered")
	f.DurationVar(&cfg.Think, "think", 300*time.Millisecond, "delay before each answer")
	f.Uint64Var(&cfg.RNGSeed, "rng-seed", uint64(time.Now().UnixNano()), "seed for the bot's own choices")
	f.DurationVar(&deadline, "deadline", 10*time.Minute, "give up after this long")
	f.BoolVar(&devLog, "dev-log", true, "console logs")
	return cmd
}
