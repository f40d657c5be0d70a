package scoped

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"strconv"
	"sync"
)

const (
	// indexBits is the width of one table index inside a key hash.
	indexBits = 4

	// tableSize is the largest cache size and the width of each half of
	// a key bitmask.
	tableSize = 1 << indexBits

	primaryMask = 1<<tableSize - 1

	minCacheSize     = 2
	defaultCacheSize = tableSize

	// CacheSizeEnv names the environment variable holding the number of
	// per-thread cache slots: a power of two in [2,16].
	CacheSizeEnv = "SCOPED_CACHE_SIZE"
)

var cacheConfig struct {
	once     sync.Once
	size     int
	slotMask uint32
}

// CacheSize returns the effective number of per-thread cache slots. The
// value is read from [CacheSizeEnv] once, the first time it is needed.
func CacheSize() int {
	loadCacheConfig()
	return cacheConfig.size
}

func loadCacheConfig() {
	cacheConfig.once.Do(func() {
		size := defaultCacheSize
		if raw, ok := os.LookupEnv(CacheSizeEnv); ok {
			n, err := parseCacheSize(raw)
			if err != nil {
				logger().Warn("scoped: invalid cache size, using default",
					slog.String("env", CacheSizeEnv),
					slog.String("value", raw),
					slog.Int("default", defaultCacheSize),
					slog.String("error", err.Error()),
				)
			} else {
				size = n
			}
		}
		cacheConfig.size = size
		cacheConfig.slotMask = uint32(size - 1)
	})
}

func parseCacheSize(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < minCacheSize || n > tableSize {
		return 0, fmt.Errorf("cache size %d out of range [%d,%d]", n, minCacheSize, tableSize)
	}
	if bits.OnesCount(uint(n)) != 1 {
		return 0, fmt.Errorf("cache size %d is not a power of two", n)
	}
	return n, nil
}
