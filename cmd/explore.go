// File: cmd/explore.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/graph"
	"github.com/kestrelhq/wayfarer/internal/observability"
	"github.com/kestrelhq/wayfarer/internal/orchestrator"
)

// newExploreCmd creates and configures the `explore` command.
func newExploreCmd() *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore <start-url>",
		Short: "Explores a web application starting from the given URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override file and env config.
			if err := viper.BindPFlag("explorer.strategy", cmd.Flags().Lookup("strategy")); err != nil {
				return err
			}
			if err := viper.BindPFlag("explorer.max_total_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("explorer.max_depth", cmd.Flags().Lookup("depth")); err != nil {
				return err
			}
			if err := viper.BindPFlag("orchestrator.sessions", cmd.Flags().Lookup("sessions")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("archive.enabled", cmd.Flags().Lookup("archive"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			startURL := args[0]
			if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
				startURL = "https://" + startURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var archive *graph.Archive
			if cfg.Archive.Enabled {
				pool, err := pgxpool.New(ctx, cfg.Archive.DSN)
				if err != nil {
					return fmt.Errorf("failed to connect to archive database: %w", err)
				}
				defer pool.Close()

				archive, err = graph.NewArchive(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize graph archive: %w", err)
				}
				if err := archive.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			orch, err := orchestrator.New(cfg, logger, archive)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			callbacks := schemas.ExplorationCallbacks{
				OnStart: func(url string) {
					logger.Info("Exploration started", zap.String("url", url))
				},
				OnAfterAction: func(step schemas.StepRecord) {
					logger.Info("Step completed",
						zap.Int("index", step.Index),
						zap.String("action", string(step.Action.Type)),
						zap.String("selector", step.Action.Selector),
						zap.String("outcome", string(step.Outcome.Type)),
						zap.Bool("new_state", step.NewState))
				},
				OnBacktrack: func(nodeID string, depth int) {
					logger.Debug("Backtracked", zap.String("node", nodeID), zap.Int("depth", depth))
				},
				OnLog: func(message, level string) {
					switch level {
					case "error":
						logger.Error(message)
					case "warn":
						logger.Warn(message)
					case "debug":
						logger.Debug(message)
					default:
						logger.Info(message)
					}
				},
			}

			results, err := orch.Run(ctx, startURL, callbacks)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Exploration aborted by signal")
					return fmt.Errorf("exploration aborted")
				}
				return err
			}

			for _, result := range results {
				fmt.Printf("Run %s: %s, %d steps, %d unique states, %d unique URLs in %s\n",
					result.RunID,
					result.TerminationReason,
					len(result.Steps),
					result.UniqueStates,
					result.UniqueURLs,
					result.Duration.Round(10*time.Millisecond))
			}
			return nil
		},
	}

	exploreCmd.Flags().StringP("strategy", "s", "coverage_guided", "Exploration strategy: coverage_guided, breadth_first, depth_first, random")
	exploreCmd.Flags().Int("max-steps", 0, "Maximum exploration steps. (Overrides config/env)")
	exploreCmd.Flags().IntP("depth", "d", 0, "Maximum exploration depth. (Overrides config/env)")
	exploreCmd.Flags().IntP("sessions", "j", 0, "Number of concurrent exploration sessions. (Overrides config/env)")
	exploreCmd.Flags().Bool("headless", true, "Run the browser headless")
	exploreCmd.Flags().Bool("archive", false, "Persist the exploration graph to PostgreSQL")

	return exploreCmd
}

func init() {
	rootCmd.AddCommand(newExploreCmd())
}
