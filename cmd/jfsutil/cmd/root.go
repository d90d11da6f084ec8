package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c8ef/CS111/util"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "jfsutil",
	Short: "Format, replay, and check images for the CS111 journaling filesystem",
	Long: `jfsutil administers V6-style filesystem images used by this module's
journaling filesystem (JFS): formatting new images, replaying a log left
open by an unclean shutdown, and scanning/repairing an image offline.

Commands:
  mkfs     Format a new filesystem image
  replay   Redo a crashed image's committed transactions
  fsck     Check (and optionally repair) an image's consistency
  dumplog  List the records in an image's log`,
}

// Execute adds every subcommand to the root command and runs it, exiting
// nonzero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging (equivalent to CS111_DEBUG=2)")
	cobra.OnInitialize(func() {
		if verbose {
			util.Debug = 2
		}
	})
}
