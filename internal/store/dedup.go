package store

import (
	"github.com/dgraph-io/ristretto/v2"
)

// DedupCache is a bounded, best-effort accelerator that lets a download
// daemon skip re-opening a file on disk to re-check written_offsets for a
// chunk it almost certainly already wrote. It is explicitly NOT
// authoritative: DownloadFile's written_offsets map remains the single
// source of truth, and a cache miss or eviction just means falling back to
// the normal write path, never a correctness issue.
type DedupCache struct {
	cache *ristretto.Cache[string, struct{}]
}

// NewDedupCache builds a cache sized for roughly maxChunks recently-seen
// chunk keys.
func NewDedupCache(maxChunks int64) (*DedupCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: maxChunks * 10,
		MaxCost:     maxChunks,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DedupCache{cache: cache}, nil
}

// Seen reports whether key was previously recorded via MarkSeen. A false
// result does not guarantee the chunk is new — only that the cache does
// not currently remember it.
func (d *DedupCache) Seen(key string) bool {
	_, ok := d.cache.Get(key)
	return ok
}

// MarkSeen records key so a subsequent Seen call for it is likely (not
// guaranteed) to return true.
func (d *DedupCache) MarkSeen(key string) {
	d.cache.Set(key, struct{}{}, 1)
	d.cache.Wait()
}

// Close releases background goroutines owned by the cache.
func (d *DedupCache) Close() {
	d.cache.Close()
}
