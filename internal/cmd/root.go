/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cmd contains the command-line interface of the watchtower service.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

type rootOpts struct {
	configPath string
	envFile    string
}

// Execute runs the root command with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand creates the root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	opts := &rootOpts{}
	rootCmd := &cobra.Command{
		Use:   "watchtower",
		Short: "Gateway for the political transparency API",
		Long: `Watchtower serves the political transparency API: it applies per-client rate limits,
relays reads and logins to the upstream collaborators, and publishes service activity.

Configuration is read from the optional file passed via --config and from WATCHTOWER_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "",
		"path to the file with environment variables (.env in the working directory is loaded if present)")

	rootCmd.AddCommand(newServeCommand(opts), newConfigCommand(opts), newVersionCommand())
	return rootCmd
}

// loadEnvFile populates the environment from the file. Variables that are already set are not overridden.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", defaultEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}
