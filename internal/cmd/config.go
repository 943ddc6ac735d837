/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/acronis/watchtower/internal/app"
)

func newConfigCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load the configuration the same way the serve command does, validate it,
and print the effective settings as YAML. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.configPath, app.EnvVarsPrefix)
			if err != nil {
				return err
			}
			settings, err := cfg.EffectiveSettings()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err = enc.Encode(settings); err != nil {
				return fmt.Errorf("encode effective settings: %w", err)
			}
			return enc.Close()
		},
	}
}
