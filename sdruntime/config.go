package sdruntime

import (
	"os"
	"strconv"
)

// SDConfig holds native runtime tuning read from the environment.
type SDConfig struct {
	Threads   int  // CPU threads; 0 lets the runtime decide
	VAETiling bool // Decode in tiles to lower peak memory
}

// LoadSDConfig reads SD_THREADS and SD_VAE_TILING.
func LoadSDConfig() *SDConfig {
	return &SDConfig{
		Threads:   parseThreads(os.Getenv("SD_THREADS")),
		VAETiling: os.Getenv("SD_VAE_TILING") == "true",
	}
}

// Loader returns a NativeLoader with this tuning.
func (c *SDConfig) Loader() NativeLoader {
	return NativeLoader{Threads: c.Threads, VAETiling: c.VAETiling}
}

// parseThreads parses the native thread count. Returns 0 (auto) if invalid.
func parseThreads(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
