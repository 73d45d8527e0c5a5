package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelmind.ai/internal/persistence/indexdb"
	persistlog "voxelmind.ai/internal/persistence/log"
)

func openIndex(g *globalOpts) (*indexdb.SQLiteIndex, error) {
	path := g.indexPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	return indexdb.OpenSQLite(path, zap.NewNop())
}

func sessionsCmd(g *globalOpts) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List completed sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(g)
			if err != nil {
				return err
			}
			defer idx.Close()
			rows, err := idx.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tROUNDS\tSCORE\tACC%\tNEAR_MISS%\tNORMAL%\tMEAN_RT_MS\tENDED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					r.SessionID, r.Rounds, r.Score,
					r.Summary.Overall.Accuracy, r.Summary.NearMiss.Accuracy, r.Summary.Normal.Accuracy,
					r.Summary.Overall.MeanRTMs, r.EndedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func trialsCmd(g *globalOpts) *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "trials",
		Short: "List the trials of one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("missing --session")
			}
			idx, err := openIndex(g)
			if err != nil {
				return err
			}
			defer idx.Close()
			rows, err := idx.ListTrials(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUND\tLEVEL\tCUBES\tKIND\tTRUTH\tCHOICE\tCORRECT\tRT_MS")
			for _, o := range rows {
				choice := "-"
				if o.Choice != nil {
					choice = fmt.Sprint(*o.Choice)
				}
				if o.IsTimeout {
					choice = "timeout"
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%v\t%s\t%v\t%d\n",
					o.Round, o.Level, o.CubeCount, o.Kind, o.Truth, choice, o.Correct, o.ReactionTimeMs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// reindexCmd rebuilds the SQLite index from the JSONL logs, which remain the
// source of truth when the live index dropped writes.
func reindexCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the SQLite index from the outcome and summary logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes, err := persistlog.ReadAllOutcomes(g.dataDir)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("read outcomes: %w", err)
			}
			idx, err := indexdb.OpenSQLite(g.indexPath(), zap.NewNop())
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				idx.WriteOutcome(o)
			}
			files, err := persistlog.ListFiles(filepath.Join(g.dataDir, persistlog.SummariesDir), persistlog.SummariesPrefix)
			if err != nil && !os.IsNotExist(err) {
				_ = idx.Close()
				return err
			}
			reports := 0
			for _, f := range files {
				rs, err := persistlog.ReadReports(f)
				if err != nil {
					_ = idx.Close()
					return err
				}
				for _, r := range rs {
					idx.RecordSummary(r)
					reports++
				}
			}
			st := idx.Stats()
			if err := idx.Close(); err != nil {
				return err
			}
			if st.DropOutcomeTotal+st.DropSummaryTotal > 0 {
				return fmt.Errorf("index queue overflowed: outcomes=%d summaries=%d dropped; rerun", st.DropOutcomeTotal, st.DropSummaryTotal)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed outcomes=%d summaries=%d into %s\n", len(outcomes), reports, g.indexPath())
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
