package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "voxelmind.ai/internal/persistence/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOpts struct {
	dataDir string
	dbPath  string
}

func (g *globalOpts) indexPath() string {
	if g.dbPath != "" {
		return g.dbPath
	}
	return filepath.Join(g.dataDir, "index.db")
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:          "admin",
		Short:        "Inspect recorded sessions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data", "./data", "server data directory")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "sqlite index path (default <data>/index.db)")

	root.AddCommand(
		filesCmd(g),
		sessionsCmd(g),
		trialsCmd(g),
		reindexCmd(g),
		stateCmd(),
	)
	return root
}

func filesCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List outcome and summary log files",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range []struct{ dir, prefix string }{
				{persistlog.OutcomesDir, persistlog.OutcomesPrefix},
				{persistlog.SummariesDir, persistlog.SummariesPrefix},
			} {
				files, err := persistlog.ListFiles(filepath.Join(g.dataDir, d.dir), d.prefix)
				if err != nil && !os.IsNotExist(err) {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
			}
			return nil
		},
	}
}
