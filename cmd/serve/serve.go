// Package serve implements the HTTP service command.
package serve

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/floraguard/floraguard-go/internal/api"
	"github.com/floraguard/floraguard-go/internal/conf"
)

// Command returns the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FloraGuard HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := api.NewServer(settings)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx)
		},
	}
}
