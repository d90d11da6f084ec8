// Package util holds small helpers shared across the filesystem and
// encrypted-mmap layers: leveled debug logging and a couple of arithmetic
// helpers used throughout block/bit accounting.
package util

import (
	"log"
	"os"
	"strconv"
)

// Debug is the active debug level; DPrintf calls at or below this level are
// printed. Overridable via CS111_DEBUG so the CLI tools and tests can turn
// up tracing without a recompile.
var Debug uint64 = defaultDebugLevel()

func defaultDebugLevel() uint64 {
	if s := os.Getenv("CS111_DEBUG"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	}
	return 1
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	}
	return m
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	}
	return m
}

// CloneBytes returns a fresh copy of b, used whenever a cached buffer is
// handed to a caller that might retain or mutate it.
func CloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// SumOverflows reports whether a+b overflows a uint64.
func SumOverflows(a, b uint64) bool {
	return a+b < a
}
