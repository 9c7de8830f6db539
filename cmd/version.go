package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time using -ldflags "-X github.com/nuts-foundation/ehrbridge/cmd.GitVersion=...".
var (
	GitCommit  = "0"
	GitVersion string
	GitBranch  = "development"
)

// Version returns the version tag the binary was built from, or the branch if it isn't a tagged build.
func Version() string {
	if GitVersion != "" && GitVersion != "undefined" {
		return GitVersion
	}
	return GitBranch
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nOS/Arch: %s/%s\n", Version(), GitCommit, runtime.GOOS, runtime.GOARCH)
		},
	}
}
