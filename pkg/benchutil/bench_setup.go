package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if CDB_LONG_BENCH is not set.
// Use this to gate long-running scaling benchmarks that shouldn't run by
// default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("CDB_LONG_BENCH") == "" {
		b.Skip("set CDB_LONG_BENCH=1 to run scaling benchmark")
	}
}
