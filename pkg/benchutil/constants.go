package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// Standard record counts for quick benchmark runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger record counts for comprehensive scaling tests.
// Used with CDB_LONG_BENCH=1 environment variable.
var ScalingSizes = []int{10000, 50000, 100000, 250000, 500000}
