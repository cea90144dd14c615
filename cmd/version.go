package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leftmike/kumo/wire"
)

const (
	majorVersion = 0
	minorVersion = 1
)

func version() string {
	return fmt.Sprintf("kumo %d.%d (protocol %s) on %s %s, compiled by %s",
		majorVersion, minorVersion, wire.CurrentVersion, runtime.GOARCH, runtime.GOOS,
		runtime.Version())
}

func init() {
	kumoCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of kumo",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version())
			},
		})
}
