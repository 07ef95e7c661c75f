package benchmarks

import (
	"github.com/spf13/cobra"

	"github.com/zeu5/fuzz-gym/config"
	"github.com/zeu5/fuzz-gym/server"
)

var addr string

func ServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured environment over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, ctx, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			env, err := config.Build(c, logger)
			if err != nil {
				return err
			}
			return server.NewServer(addr, env, logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Address to listen on")
	return cmd
}
