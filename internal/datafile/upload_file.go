package datafile

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openmsi-go/chunkstream/internal/chunk"
	"github.com/openmsi-go/chunkstream/internal/logging"
)

// Status is the derived state of an UploadFile.
type Status int

const (
	StatusWaiting Status = iota
	StatusInProgress
	StatusFullyEnqueued
	StatusWillNotUpload
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusInProgress:
		return "in_progress"
	case StatusFullyEnqueued:
		return "fully_enqueued"
	case StatusWillNotUpload:
		return "will_not_upload"
	default:
		return "unknown"
	}
}

// ChunkQueue is the bounded FIFO that UploadFile feeds and UploadWorkerPool
// drains. EnqueueChunks never blocks on it: Enqueue must return false
// immediately when the queue is at capacity, and Full lets EnqueueChunks
// check capacity before doing any chunking work.
type ChunkQueue interface {
	// Enqueue attempts to add c to the queue. It returns ok=false without
	// blocking if the queue is at capacity.
	Enqueue(c chunk.Chunk) (ok bool)
	// Full reports whether the queue is currently at capacity.
	Full() bool
}

// UploadFile is the per-file state machine on the producer side: it holds
// the pending-chunk list and feeds it into the upload queue in bounded
// increments, never blocking the caller.
type UploadFile struct {
	mu sync.Mutex

	path           string
	rootDir        string
	filenameAppend string
	toUpload       bool
	chunkSize      uint32
	selectedRanges []ByteRange

	pending       []chunk.Chunk
	fullyEnqueued bool
	fileHash      []byte

	log *logging.Logger
}

// NewUploadFile constructs an UploadFile for path. rootDir is the directory
// boundary used to compute the chunk's Subdir : path components
// between rootDir and path are conveyed so the consumer recreates the
// directory hierarchy. filenameAppend, if non-empty, is appended to the
// basename stem before it reaches the consumer.
func NewUploadFile(path, rootDir, filenameAppend string, chunkSize uint32, selectedRanges []ByteRange, log *logging.Logger) *UploadFile {
	if log == nil {
		log = logging.Default("upload_file")
	}
	return &UploadFile{
		path:           path,
		rootDir:        rootDir,
		filenameAppend: filenameAppend,
		toUpload:       true,
		chunkSize:      chunkSize,
		selectedRanges: selectedRanges,
		log:            log,
	}
}

// Path returns the file's source path.
func (u *UploadFile) Path() string { return u.path }

// Status reports the file's derived upload status.
func (u *UploadFile) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.statusLocked()
}

func (u *UploadFile) statusLocked() Status {
	if !u.toUpload {
		return StatusWillNotUpload
	}
	if u.fullyEnqueued {
		return StatusFullyEnqueued
	}
	if len(u.pending) > 0 {
		return StatusInProgress
	}
	return StatusWaiting
}

// StatusMessage renders a human-readable one-line status.
func (u *UploadFile) StatusMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	name := u.path
	if u.rootDir != "" {
		if rel, err := filepath.Rel(u.rootDir, u.path); err == nil {
			name = rel
		}
	}

	switch u.statusLocked() {
	case StatusWillNotUpload:
		return fmt.Sprintf("%s (will not be uploaded)", name)
	case StatusFullyEnqueued:
		return fmt.Sprintf("%s (fully enqueued)", name)
	case StatusInProgress:
		return fmt.Sprintf("%s (in progress)", name)
	case StatusWaiting:
		return fmt.Sprintf("%s (waiting to be enqueued)", name)
	default:
		return fmt.Sprintf("%s (status unknown)", name)
	}
}

// EnqueueChunks moves up to maxToAdd chunks from the head of the pending
// list into queue, in FIFO order. It never blocks: a full queue, or a
// fully-enqueued file, makes it a no-op that returns immediately. On first
// call it invokes the FileChunker; a chunking failure marks the file
// WILL_NOT_UPLOAD and returns without error (the caller just stops seeing
// progress for this file).
func (u *UploadFile) EnqueueChunks(queue ChunkQueue, maxToAdd int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fullyEnqueued {
		u.log.Warn("EnqueueChunks called for fully enqueued file %s, nothing else will be added", u.path)
		return
	}

	if queue.Full() {
		// Queue is at capacity: bail out before doing any chunking work.
		return
	}

	if len(u.pending) == 0 && u.fileHash == nil {
		subdir := u.subdirLocked()
		fileHash, chunks, err := Build(u.path, filepath.Base(u.path), subdir, u.filenameAppend, u.chunkSize, u.selectedRanges)
		if err != nil {
			u.log.Error("was not able to break %s into chunks for uploading: %v. File will not be uploaded.", u.path, err)
			u.toUpload = false
			return
		}
		u.fileHash = fileHash
		u.pending = chunks
		u.log.Info("file %s has a total of %d chunks", u.path, len(chunks))
		if len(chunks) == 0 {
			// Empty file: nothing to enqueue, nothing to publish.
			u.fullyEnqueued = true
			return
		}
	}

	added := 0
	for len(u.pending) > 0 && added < maxToAdd {
		c := u.pending[0]
		if !queue.Enqueue(c) {
			// Queue is at capacity: stop without blocking, try again later.
			return
		}
		u.pending = u.pending[1:]
		added++
	}

	if len(u.pending) == 0 {
		u.fullyEnqueued = true
	}
}

func (u *UploadFile) subdirLocked() string {
	if u.rootDir == "" {
		return ""
	}
	rel, err := filepath.Rel(u.rootDir, filepath.Dir(u.path))
	if err != nil || rel == "." {
		return ""
	}
	return rel
}

// FullyEnqueued reports whether every chunk of this file has been handed to
// the queue.
func (u *UploadFile) FullyEnqueued() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fullyEnqueued
}
