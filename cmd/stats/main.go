package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/model"
	"crowdwatch/internal/repository"
	"crowdwatch/internal/repository/sqlite"

	"github.com/spf13/cobra"
)

func main() {
	if err := newStatsCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStatsCmd(cfg *config.Config) *cobra.Command {
	var pruneOlderThan time.Duration

	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Print stored crowd records per vehicle",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfg.DatabasePath); err != nil {
				return fmt.Errorf("database %s: %w", cfg.DatabasePath, err)
			}

			db, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			return run(cmd.OutOrStdout(), sqlite.NewCrowdRepository(db), pruneOlderThan, time.Now())
		},
	}

	cmd.Flags().StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "Database path")
	cmd.Flags().DurationVar(&pruneOlderThan, "prune-older-than", 0, "Delete records older than this duration before printing (e.g. 720h)")
	return cmd
}

func run(out io.Writer, repo repository.CrowdRepository, pruneOlderThan time.Duration, now time.Time) error {
	if pruneOlderThan > 0 {
		deleted, err := repo.DeleteBefore(now.Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🧹 Deleted %d records older than %s\n", deleted, pruneOlderThan)
	}

	stats, err := repo.Stats()
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "No crowd records stored")
		return nil
	}

	printStats(out, stats)
	return nil
}

func printStats(out io.Writer, stats []model.VehicleStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VEHICLE\tRECORDS\tMAX PASSENGERS\tLAST LEVEL\tLAST UPDATE")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d%%\t%s\n", s.VehicleID, s.Records, s.MaxPassengers, s.LastPercentage, s.LastUpdate.Format(time.RFC3339))
	}
	w.Flush()
}
