package benchmarks

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeu5/fuzz-gym/config"
	"github.com/zeu5/fuzz-gym/types"
)

var policyNames []string
var recordTraces bool

func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run baseline agents over the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, ctx, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			states, ledger, err := config.OpenLedger(c.Ledger, logger)
			if err != nil {
				return err
			}
			if ledger != nil {
				defer ledger.Close()
			}

			instances := parallel
			if instances < 1 {
				instances = 1
			}
			comparison := types.NewComparison(&types.ComparisonConfig{
				Runs:         runs,
				Episodes:     episodes,
				Horizon:      horizon,
				SavePath:     saveFile,
				RecordTraces: recordTraces,
				Parallel:     instances > 1 || len(policyNames) > 1,
				Logger:       logger,
			})
			plots := path.Join(saveFile, "plots")
			comparison.AddAnalysis("states", types.UniqueStates(), types.SeriesPlotter(plots, "states", "Unique states"))
			comparison.AddAnalysis("coverage", types.BestCoverage(), types.SeriesPlotter(plots, "coverage", "Coverage"))
			comparison.AddAnalysis("reward", types.CumulativeReward(), types.SeriesPlotter(plots, "reward", "Cumulative reward"))

			envs := make([]io.Closer, 0)
			defer func() {
				for _, env := range envs {
					env.Close()
				}
			}()
			for p, name := range policyNames {
				for i := 0; i < instances; i++ {
					policy, ok := types.PolicyByName(name, policySeed(p*instances+i))
					if !ok {
						return fmt.Errorf("benchmarks: unknown policy %q", name)
					}
					env, err := config.BuildWithStates(c, states, nil, logger.With("instance", i))
					if err != nil {
						return err
					}
					envs = append(envs, env)
					comparison.AddExperiment(types.NewExperiment(experimentName(name, i, instances), policy, env))
				}
			}

			if err := comparison.Run(ctx); err != nil {
				return err
			}
			logger.Info("run complete", "states", states.Len(), "save", saveFile)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&policyNames, "policies", "p", []string{"random"},
		fmt.Sprintf("Policies to compare (%s)", strings.Join(types.PolicyNames(), ", ")))
	cmd.Flags().BoolVar(&recordTraces, "traces", false, "Record the trace of every episode")
	return cmd
}

func experimentName(policy string, instance, instances int) string {
	if instances == 1 {
		return policy
	}
	return fmt.Sprintf("%s-%d", policy, instance)
}

// policySeed derives the seed of the i-th experiment; 0 keeps clock seeding.
func policySeed(i int) uint64 {
	if seed == 0 {
		return 0
	}
	return seed + uint64(i)
}
