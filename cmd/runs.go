// File: cmd/runs.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/graph"
	"github.com/kestrelhq/wayfarer/internal/observability"
)

// newRunsCmd lists archived exploration runs and dumps a single run's graph.
func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists archived exploration runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Archive.DSN == "" {
				return fmt.Errorf("archive.dsn is not configured (WAYFARER_ARCHIVE_DSN)")
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.Archive.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect to archive database: %w", err)
			}
			defer pool.Close()

			archive, err := graph.NewArchive(ctx, pool, observability.GetLogger())
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			runID, _ := cmd.Flags().GetString("run-id")

			if runID != "" {
				export, err := archive.LoadExport(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Printf("Run %s: %d nodes\n", export.RunID, len(export.Nodes))
				for _, node := range export.Nodes {
					fmt.Printf("  %s  depth=%d visits=%d edges=%d  %s\n",
						node.ID, node.Depth, node.VisitCount, len(node.Edges), node.URL)
				}
				return nil
			}

			ids, err := archive.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No archived runs.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	runsCmd.Flags().Int("limit", 50, "Maximum number of runs to list")
	runsCmd.Flags().String("run-id", "", "Print the archived graph for one run")
	return runsCmd
}

func init() {
	rootCmd.AddCommand(newRunsCmd())
}
