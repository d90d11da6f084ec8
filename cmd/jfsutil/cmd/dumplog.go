package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/wal"
)

var dumplogCmd = &cobra.Command{
	Use:   "dumplog [image-path]",
	Short: "Print every record in an image's log ring, from its checkpoint",
	Long: `Dumplog walks the log the same way replay does, but prints every record
instead of applying it — a diagnostic for inspecting what a crashed or
in-progress transaction actually logged, without touching the image. The
image path may be given positionally or via V6IMG.`,
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

		off, seq := fs.Log.Checkpoint()
		fmt.Printf("checkpoint: offset=%d seq=%d\n", off, seq)

		var scanned uint64
		for scanned <= 2*fs.Log.RingBytes() {
			rec, recSeq, next, err := fs.Log.ReadAt(off)
			if err != nil {
				fmt.Printf("%d: end of valid log (%v)\n", off, err)
				break
			}
			fmt.Printf("%d: seq=%d %s\n", off, recSeq, describe(rec))
			if next == 0 {
				scanned += fs.Log.RingBytes() - off
				off = 0
			} else {
				scanned += next - off
				off = next
			}
		}
		return nil
	},
}

func describe(rec wal.Record) string {
	switch r := rec.(type) {
	case wal.Begin:
		return "BEGIN"
	case wal.Commit:
		return fmt.Sprintf("COMMIT begin-seq=%d", r.Sequence)
	case wal.Rewind:
		return "REWIND"
	case wal.Patch:
		return fmt.Sprintf("PATCH block=%d off=%d len=%d", r.Blockno, r.OffsetInBlock, len(r.Bytes))
	case wal.BlockAlloc:
		return fmt.Sprintf("BLOCKALLOC block=%d zero=%v", r.Blockno, r.ZeroOnReplay != 0)
	case wal.BlockFree:
		return fmt.Sprintf("BLOCKFREE block=%d", r.Blockno)
	default:
		return fmt.Sprintf("%T", rec)
	}
}

func init() {
	rootCmd.AddCommand(dumplogCmd)
}
