package datafile

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openmsi-go/chunkstream/internal/chunk"
	"github.com/openmsi-go/chunkstream/internal/logging"
)

// WriteOutcome is the result of writing one Chunk to a DownloadFile.
type WriteOutcome int

const (
	AlreadyWritten WriteOutcome = iota
	InProgress
	Success
	HashMismatch
	PathMismatch
)

func (o WriteOutcome) String() string {
	switch o {
	case AlreadyWritten:
		return "already_written"
	case InProgress:
		return "in_progress"
	case Success:
		return "success"
	case HashMismatch:
		return "hash_mismatch"
	case PathMismatch:
		return "path_mismatch"
	default:
		return "unknown"
	}
}

// IsError reports whether outcome is one the caller must surface; only
// HashMismatch and PathMismatch qualify.
func (o WriteOutcome) IsError() bool {
	return o == HashMismatch || o == PathMismatch
}

// DownloadFile reconstructs one source file from arriving Chunks. It owns
// its own lock; callers never pass one in.
type DownloadFile struct {
	mu sync.Mutex

	path            string
	expectedPath    string
	writtenOffsets  map[uint64]struct{}
	expectedNTotal  uint32
	expectedFileKey chunk.Key
	haveExpected    bool

	log *logging.Logger
}

// NewDownloadFile constructs a DownloadFile that will reconstruct path,
// creating its parent directory if absent. expectedPath is the FilePath a
// Chunk must carry to be accepted by this DownloadFile (PATH_MISMATCH
// otherwise); it is the producer-side FilePath carried in the chunks, not
// the output path under output_dir. An empty expectedPath accepts any
// FilePath.
func NewDownloadFile(path, expectedPath string, log *logging.Logger) (*DownloadFile, error) {
	if log == nil {
		log = logging.Default("download_file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory for %s: %w", path, err)
	}
	return &DownloadFile{
		path:           path,
		expectedPath:   expectedPath,
		writtenOffsets: make(map[uint64]struct{}),
		log:            log,
	}, nil
}

// Write applies one Chunk's bytes to the file on disk, idempotently.
func (d *DownloadFile) Write(c chunk.Chunk) (WriteOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.expectedPath != "" && c.FilePath != d.expectedPath {
		d.log.Error("filepath mismatch between chunk %s and data file %s", c.FilePath, d.expectedPath)
		return PathMismatch, nil
	}

	if !d.haveExpected {
		d.expectedNTotal = c.NTotal
		d.expectedFileKey = chunk.KeyOf(c)
		d.haveExpected = true
	}

	if _, seen := d.writtenOffsets[c.ChunkOffset]; seen {
		return AlreadyWritten, nil
	}

	mode := os.O_RDWR | os.O_CREATE
	f, err := os.OpenFile(d.path, mode, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s for writing: %w", d.path, err)
	}
	if _, err := f.WriteAt(c.Data, int64(c.ChunkOffset)); err != nil {
		f.Close()
		return 0, fmt.Errorf("write chunk at offset %d to %s: %w", c.ChunkOffset, d.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("fsync %s: %w", d.path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", d.path, err)
	}

	d.writtenOffsets[c.ChunkOffset] = struct{}{}

	if uint32(len(d.writtenOffsets)) != c.NTotal {
		return InProgress, nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return 0, fmt.Errorf("read %s for final hash check: %w", d.path, err)
	}
	sum := sha512.Sum512(data)
	if !bytes.Equal(sum[:], c.FileHash) {
		d.log.Error("hash mismatch reconstructing %s: file kept on disk for forensic inspection", d.path)
		return HashMismatch, nil
	}
	return Success, nil
}

// Progress returns (written, expected) chunk counts for liveness reporting.
func (d *DownloadFile) Progress() (written int, expected uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writtenOffsets), d.expectedNTotal
}
