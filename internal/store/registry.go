// Package store persists upload progress and provides a best-effort
// download-side dedup accelerator. The registry wraps an embedded badger
// database keyed on file identity, used here to answer "has this file
// already been fully uploaded" across daemon restarts for --new_files_only.
package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound reports that no record exists for a key. Registry's methods
// do not return it: WasUploaded reports a missing key as (false, nil).
var ErrNotFound = errors.New("store: key not found")

// Registry is a small embedded key-value store recording which source
// files have already been fully enqueued, so a restarted upload daemon run
// with --new_files_only can skip them. It does not provide exactly-once or
// resumable-upload guarantees: a crash between a file being marked done
// and all of its chunks being acked by the broker can still lose chunks.
// It only avoids redundant re-uploads of files that were already fully
// enqueued.
type Registry struct {
	db *badger.DB
}

// OpenRegistry opens (creating if absent) a badger database rooted at dir.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry at %s: %w", dir, err)
	}
	return &Registry{db: db}, nil
}

// MarkUploaded records fileKey as fully enqueued.
func (r *Registry) MarkUploaded(fileKey string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fileKey), []byte{1})
	})
}

// WasUploaded reports whether fileKey has previously been recorded as
// fully enqueued.
func (r *Registry) WasUploaded(fileKey string) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(fileKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Close releases the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}
