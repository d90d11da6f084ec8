// Command jfsutil is the administrative front end for the filesystem this
// module implements: format an image (mkfs), replay its log after an
// unclean mount (replay), check/repair its consistency offline (fsck), and
// list its log records (dumplog).
// It follows the one-binary-many-subcommands shape of
// deploymenttheory-go-apfs's cmd package rather than original_source/P8's
// separate mkfsv6/fsckv6 binaries, since cobra makes that free and the
// tools share a lot of flag plumbing (image path, verbosity).
package main

import "github.com/c8ef/CS111/cmd/jfsutil/cmd"

func main() {
	cmd.Execute()
}
