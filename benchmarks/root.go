package benchmarks

import "github.com/spf13/cobra"

var (
	configFile string
	episodes   int
	horizon    int
	saveFile   string
	runs       int
	parallel   int
	seed       uint64
	verbose    bool
	cpuprofile string
	memprofile string
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "fuzz-gym",
		Short:         "Drive guided targets as reinforcement learning environments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCommand.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Target configuration file (defaults to the tree target)")
	rootCommand.PersistentFlags().IntVarP(&episodes, "episodes", "e", 100, "Number of episodes to run")
	rootCommand.PersistentFlags().IntVar(&horizon, "horizon", 100, "Horizon of each episode")
	rootCommand.PersistentFlags().StringVarP(&saveFile, "save", "s", "results", "Save the result data in the specified folder")
	rootCommand.PersistentFlags().IntVar(&runs, "runs", 1, "Number of experiment runs")
	rootCommand.PersistentFlags().IntVar(&parallel, "parallel", 1, "Number of environment instances to run side by side")
	rootCommand.PersistentFlags().Uint64Var(&seed, "seed", 0, "Seed of the policies, 0 picks one from the clock")
	rootCommand.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level and echo target output")
	rootCommand.PersistentFlags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile to this file in the save folder")
	rootCommand.PersistentFlags().StringVar(&memprofile, "memprofile", "", "Write a heap profile to this file in the save folder")
	// adding the subcommands here
	rootCommand.AddCommand(RunCommand())
	rootCommand.AddCommand(ExploreCommand())
	rootCommand.AddCommand(ServeCommand())
	rootCommand.AddCommand(LedgerCommand())
	return rootCommand
}
