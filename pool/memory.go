package pool

import (
	"os"
	"strconv"
)

// defaultMemoryCeiling is the fallback coupling-batch memory budget, 16 GB.
const defaultMemoryCeiling = int64(16_000_000_000)

// MemoryCeiling returns the memory budget in bytes for coupling batches.
// A positive configured value wins; otherwise the MAXMEM environment
// variable (in GB) is honored; otherwise the 16 GB default applies.
func MemoryCeiling(configured int64) int64 {
	if configured > 0 {
		return configured
	}
	if s := os.Getenv("MAXMEM"); s != "" {
		if gb, err := strconv.ParseFloat(s, 64); err == nil && gb > 0 {
			return int64(gb * 1e9)
		}
	}
	return defaultMemoryCeiling
}
