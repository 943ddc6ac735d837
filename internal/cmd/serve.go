/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acronis/watchtower/internal/app"
	"github.com/acronis/watchtower/internal/buildinfo"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/service"
)

func newServeCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. SIGINT or SIGTERM stops it gracefully:
in-flight requests are completed and the upstream clients are released.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.configPath, app.EnvVarsPrefix)
			if err != nil {
				return err
			}

			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()

			a, err := app.New(cfg, logger, app.Opts{})
			if err != nil {
				logger.Error("failed to create service", log.Error(err))
				return err
			}
			logger.Info("starting service",
				log.String("version", buildinfo.GetVersion()),
				log.String("address", cfg.Server.Address),
				log.String("rate_limit_storage", cfg.RateLimit.Storage),
				log.Bool("rate_limit_dry_run", cfg.RateLimit.DryRun),
			)
			return service.New(logger, a).StartContext(cmd.Context())
		},
	}
}
