package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c8ef/CS111/fsck"
	"github.com/c8ef/CS111/jfs"
)

var fsckRepair bool

var fsckCmd = &cobra.Command{
	Use:   "fsck [image-path]",
	Short: "Check (and optionally repair) an image's consistency",
	Long: `Fsck walks every inode's block-pointer tree, then the directory tree
rooted at "/", cross-checking reachability against stored link counts
(spec §4.12), the way original_source/P8/fsckv6.cc does. With -y on an
image left dirty by an unclean shutdown, it first redoes the log, then
applies whatever repairs it staged and rebuilds the free-block
representation from scratch; without -y, fsck scans the image exactly as
found and only reports findings, exiting nonzero if it found anything
wrong. The image path may be given positionally or via V6IMG.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := imagePath(args)
		if err != nil {
			return err
		}
		fs, err := jfs.Mount(path)
		if err != nil {
			return err
		}
		defer fs.Unmount()

		clean, c, err := fsck.Check(fs, fsckRepair)
		if err != nil {
			return err
		}
		fmt.Println(c.Summary())
		if !clean && !fsckRepair {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
	fsckCmd.Flags().BoolVarP(&fsckRepair, "repair", "y", false, "apply repairs instead of just reporting them")
}
