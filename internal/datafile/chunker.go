// Package datafile implements the chunking and reconstruction state
// machines that sit on either side of the broker: FileChunker splits a file
// on disk into an ordered sequence of Chunks, UploadFile tracks a
// producer-side file's progress through the upload queue, and DownloadFile
// reassembles one file from arriving Chunks.
package datafile

import (
	"crypto/sha512"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/openmsi-go/chunkstream/internal/chunk"
)

// ByteRange is a half-open [Start, Stop) byte window used to restrict
// chunking to selected portions of a file.
type ByteRange struct {
	Start uint64
	Stop  uint64
}

// ChunkingError is returned by Build on I/O failure or malformed
// SelectedRanges; the caller (UploadFile) maps it to WILL_NOT_UPLOAD.
type ChunkingError struct {
	Path string
	Err  error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking error for %s: %v", e.Path, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// Build splits the file at path into an ordered sequence of Chunks of at
// most chunkSize bytes each, and computes the whole-file SHA-512 over the
// bytes actually chunked (all bytes, in file order, unless selectedRanges
// restricts the window). Every emitted Chunk carries subdir and fileName,
// with filenameAppend, if non-empty, inserted before fileName's extension.
func Build(path, fileName, subdir, filenameAppend string, chunkSize uint32, selectedRanges []ByteRange) ([]byte, []chunk.Chunk, error) {
	if chunkSize == 0 {
		return nil, nil, &ChunkingError{Path: path, Err: fmt.Errorf("chunk size must be positive")}
	}

	ranges, err := normalizeRanges(selectedRanges)
	if err != nil {
		return nil, nil, &ChunkingError{Path: path, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ChunkingError{Path: path, Err: err}
	}
	defer f.Close()

	fileHash := sha512.New()
	var chunks []chunk.Chunk
	var chunkOffset uint64
	buf := make([]byte, chunkSize)

	readWindow := func(fileOffset uint64, want uint32) ([]byte, error) {
		if _, err := f.Seek(int64(fileOffset), io.SeekStart); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		return data, nil
	}

	if len(ranges) == 0 {
		fileOffset := uint64(0)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				ch := makeChunk(path, fileName, subdir, filenameAppend, data, fileOffset, chunkOffset)
				fileHash.Write(data)
				chunks = append(chunks, ch)
				fileOffset += uint64(n)
				chunkOffset += uint64(n)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, nil, &ChunkingError{Path: path, Err: err}
			}
		}
	} else {
		for _, r := range ranges {
			remaining := r.Stop - r.Start
			fileOffset := r.Start
			for remaining > 0 {
				want := uint32(chunkSize)
				if uint64(want) > remaining {
					want = uint32(remaining)
				}
				data, err := readWindow(fileOffset, want)
				if err != nil {
					return nil, nil, &ChunkingError{Path: path, Err: err}
				}
				if len(data) == 0 {
					break
				}
				ch := makeChunk(path, fileName, subdir, filenameAppend, data, fileOffset, chunkOffset)
				fileHash.Write(data)
				chunks = append(chunks, ch)
				fileOffset += uint64(len(data))
				chunkOffset += uint64(len(data))
				remaining -= uint64(len(data))
			}
		}
	}

	sum := fileHash.Sum(nil)
	nTotal := uint32(len(chunks))
	for i := range chunks {
		chunks[i].FileHash = sum
		chunks[i].Index = uint32(i + 1)
		chunks[i].NTotal = nTotal
	}

	return sum, chunks, nil
}

func makeChunk(path, fileName, subdir, filenameAppend string, data []byte, fileOffset, chunkOffset uint64) chunk.Chunk {
	h := sha512.Sum512(data)
	name := fileName
	if filenameAppend != "" {
		name = nameWithAppend(fileName, filenameAppend)
	}
	return chunk.Chunk{
		FilePath:    path,
		FileName:    name,
		ChunkHash:   h[:],
		FileOffset:  fileOffset,
		ChunkOffset: chunkOffset,
		Length:      uint32(len(data)),
		Subdir:      subdir,
		Data:        data,
	}
}

// normalizeRanges validates that ranges are non-empty, ordered (start <
// stop), and returns them sorted ascending by Start.
func normalizeRanges(ranges []ByteRange) ([]ByteRange, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	out := make([]ByteRange, len(ranges))
	copy(out, ranges)
	for _, r := range out {
		if r.Start >= r.Stop {
			return nil, fmt.Errorf("invalid byte range [%d,%d): start must be < stop", r.Start, r.Stop)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func nameWithAppend(fileName, append string) string {
	ext := ""
	base := fileName
	for i := len(fileName) - 1; i >= 0; i-- {
		if fileName[i] == '.' {
			ext = fileName[i:]
			base = fileName[:i]
			break
		}
	}
	return base + append + ext
}
