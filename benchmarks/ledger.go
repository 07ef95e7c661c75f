package benchmarks

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zeu5/fuzz-gym/config"
)

func LedgerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Print the state ledger ordered by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			states, closer, err := config.OpenLedger(c.Ledger, newLogger(verbose))
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			entries := states.Entries()
			signatures := make([]string, 0, len(entries))
			for s := range entries {
				signatures = append(signatures, s)
			}
			sort.Slice(signatures, func(i, j int) bool {
				return entries[signatures[i]] < entries[signatures[j]]
			})
			out := cmd.OutOrStdout()
			for _, s := range signatures {
				fmt.Fprintf(out, "%d\t%s\n", entries[s], s)
			}
			return nil
		},
	}
}
