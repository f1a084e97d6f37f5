package commands

import (
	"fmt"
	"runtime"

	"github.com/reviewloop/reviewloop/internal/build"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run:   runVersion,
}

// runVersion prints the version and build information.
func runVersion(*cobra.Command, []string) {
	fmt.Printf("reviewloop version %s go=%s\n",
		build.Version(), runtime.Version())
}
