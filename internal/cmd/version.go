/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/acronis/watchtower/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	var extended bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "watchtower %s\n", buildinfo.GetVersion())
			if err == nil && extended {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", runtime.Version())
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	return cmd
}
