package benchmarks

import (
	"encoding/json"
	"path"

	"github.com/spf13/cobra"

	"github.com/zeu5/fuzz-gym/config"
	"github.com/zeu5/fuzz-gym/explorer"
	"github.com/zeu5/fuzz-gym/util"
)

var (
	iterations int
	maxSteps   int
	inspect    string
)

// Example invocations
//
//	fuzz-gym explore -c cosmos.yaml --iterations 500
//	fuzz-gym explore --inspect results/archive.json
func ExploreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Go-Explore the configured target, or browse a recorded archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inspect != "" {
				archive, err := explorer.ReadArchive(inspect)
				if err != nil {
					return err
				}
				explorer.Interact(archive, cmd.InOrStdin(), cmd.OutOrStdout())
				return nil
			}

			c, logger, ctx, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			env, err := config.Build(c, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			e, err := explorer.NewExplorer(explorer.Config{
				Environment: env,
				Iterations:  iterations,
				MaxSteps:    maxSteps,
				Seed:        seed,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			stats, runErr := e.Run(ctx)

			if err := e.Archive().Record(path.Join(saveFile, "archive.json")); err != nil {
				return err
			}
			bs, err := json.Marshal(stats)
			if err != nil {
				return err
			}
			if err := util.AppendToFile(path.Join(saveFile, "explore.jsonl"), string(bs)); err != nil {
				return err
			}
			logger.Info("exploration done", "iterations", stats.Iterations, "cells", stats.Cells,
				"frames", stats.Frames, "max_reward", stats.MaxReward, "faults", stats.Faults)
			if runErr != nil && ctx.Err() == nil {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 100, "Number of restore and explore iterations")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 100, "Upper bound of the random walk of an iteration")
	cmd.Flags().StringVar(&inspect, "inspect", "", "Browse a recorded archive instead of exploring")
	return cmd
}
