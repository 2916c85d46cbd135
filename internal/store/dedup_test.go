package store

import "testing"

func TestDedupCacheMarkAndSeen(t *testing.T) {
	cache, err := NewDedupCache(1000)
	if err != nil {
		t.Fatalf("NewDedupCache: %v", err)
	}
	defer cache.Close()

	if cache.Seen("chunk-1") {
		t.Fatal("expected chunk-1 to be unseen before MarkSeen")
	}
	cache.MarkSeen("chunk-1")
	if !cache.Seen("chunk-1") {
		t.Fatal("expected chunk-1 to be seen after MarkSeen")
	}
}

func TestDedupCacheMissIsNotAnError(t *testing.T) {
	cache, err := NewDedupCache(1000)
	if err != nil {
		t.Fatalf("NewDedupCache: %v", err)
	}
	defer cache.Close()

	if cache.Seen("never-marked") {
		t.Fatal("expected a cache miss for a key that was never marked")
	}
}
