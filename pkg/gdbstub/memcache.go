package gdbstub

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/gdbstub/pkg/inferior"
)

// memoryCache remembers the memory read during a stop, so that the chunks
// sent with jThreadsInfo and later x/m reads of the same range agree.
// Entries are keyed by snapshot generation and the cache is purged whenever
// the inferior runs or its memory is written.
type memoryCache struct {
	target inferior.Target
	cache  *lru.Cache // nil if caching is disabled
}

type memoryKey struct {
	generation uint64
	addr       uint64
	size       int
}

func newMemoryCache(tgt inferior.Target, size int) (*memoryCache, error) {
	mc := &memoryCache{target: tgt}
	if size > 0 {
		cache, err := lru.New(size)
		if err != nil {
			return nil, err
		}
		mc.cache = cache
	}
	return mc, nil
}

// read returns size bytes at addr, the returned slice must not be modified.
func (mc *memoryCache) read(generation, addr uint64, size int) ([]byte, error) {
	key := memoryKey{generation, addr, size}
	if mc.cache != nil {
		if v, ok := mc.cache.Get(key); ok {
			return v.([]byte), nil
		}
	}
	buf := make([]byte, size)
	n, err := mc.target.ReadMemory(buf, addr)
	if err != nil {
		return nil, err
	}
	if n < size {
		return nil, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, size)
	}
	if mc.cache != nil {
		mc.cache.Add(key, buf)
	}
	return buf, nil
}

func (mc *memoryCache) purge() {
	if mc.cache != nil {
		mc.cache.Purge()
	}
}
