package fsops

import "time"

// now returns the current time as the 32-bit Unix timestamp V6 inodes and
// directories store in atime/mtime.
func now() int64 { return time.Now().Unix() }
