package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/replay"
)

var replayForce bool

var replayCmd = &cobra.Command{
	Use:   "replay [image-path]",
	Short: "Redo a crashed image's committed transactions",
	Long: `Replay scans the image's log from its last checkpoint and redoes every
transaction whose Commit record is present, discarding anything left open
by a crash (spec §4.11). Normally this only makes sense on an image whose
dirty bit was left set by an unclean shutdown; --force replays regardless.
The image path may be given positionally or via V6IMG.`,
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

		if !fs.Journaling {
			return fmt.Errorf("%s is not a journaling image", path)
		}
		if !fs.WasDirty && !replayForce {
			fmt.Printf("%s was cleanly unmounted; nothing to replay (use --force to replay anyway)\n", path)
			return nil
		}
		if err := replay.Apply(fs); err != nil {
			return err
		}
		fmt.Printf("replayed %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayForce, "force", false, "replay even if the image was cleanly unmounted")
}
