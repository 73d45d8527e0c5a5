package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "voxelmind.ai/internal/persistence/log"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/tuning"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dataDir    string
		tuningPath string
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Re-check recorded trial outcomes and session summaries",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune, err := tuning.Load(tuningPath)
			if err != nil {
				return fmt.Errorf("load tuning: %w", err)
			}
			res, err := verifyDir(dataDir, tune)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !quiet {
				for _, s := range res.sessions {
					sum := session.Summarize(s.Outcomes)
					fmt.Fprintf(out, "session=%s rounds=%d accuracy=%d%% near_miss=%d%% normal=%d%% mean_rt_ms=%d score=%d\n",
						s.ID, len(s.Outcomes), sum.Overall.Accuracy, sum.NearMiss.Accuracy, sum.Normal.Accuracy,
						sum.Overall.MeanRTMs, scoreOf(s.Outcomes, tune))
				}
			}
			for _, v := range res.violations {
				fmt.Fprintln(cmd.ErrOrStderr(), v.String())
			}
			if len(res.violations) > 0 {
				return fmt.Errorf("%d violations", len(res.violations))
			}
			fmt.Fprintf(out, "replay ok: sessions=%d outcomes=%d reports=%d\n", len(res.sessions), res.outcomes, res.reports)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dataDir, "data", "./data", "server data directory")
	f.StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "tuning the server ran with")
	f.BoolVar(&quiet, "quiet", false, "only print violations and the final line")
	return cmd
}

type verifyResult struct {
	sessions   []sessionLog
	violations []violation
	outcomes   int
	reports    int
}

func verifyDir(dataDir string, t tuning.Tuning) (verifyResult, error) {
	var res verifyResult
	all, err := persistlog.ReadAllOutcomes(dataDir)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("read outcomes: %w", err)
	}
	res.outcomes = len(all)
	res.sessions = groupBySession(all)
	byID := make(map[string]sessionLog, len(res.sessions))
	for _, s := range res.sessions {
		byID[s.ID] = s
		res.violations = append(res.violations, checkSession(s, t)...)
	}

	files, err := persistlog.ListFiles(filepath.Join(dataDir, persistlog.SummariesDir), persistlog.SummariesPrefix)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("list summaries: %w", err)
	}
	for _, f := range files {
		reports, err := persistlog.ReadReports(f)
		if err != nil {
			return res, fmt.Errorf("read summaries: %w", err)
		}
		for _, r := range reports {
			res.reports++
			s, ok := byID[r.SessionID]
			if !ok {
				res.violations = append(res.violations, violation{SessionID: r.SessionID, Msg: "summary without outcomes"})
				continue
			}
			res.violations = append(res.violations, checkReport(r, s, t)...)
		}
	}
	return res, nil
}
