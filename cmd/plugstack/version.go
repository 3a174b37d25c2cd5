package main

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "0.0.0-dev"
	commit  = "none"
)

func newVersionCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := semver.NewVersion(version)
			if err != nil {
				return fmt.Errorf("invalid build version %q: %w", version, err)
			}
			fmt.Fprintf(o.out, "plugstack %s (commit %s, %s)\n", v, commit, runtime.Version())
			return nil
		},
	}
}
