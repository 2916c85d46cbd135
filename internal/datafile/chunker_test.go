package datafile

import (
	"crypto/sha512"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

// S1: a 3-byte file "abc" with chunk_size=2 yields two chunks.
func TestBuildScenarioS1(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "abc.txt", []byte("abc"))

	fileHash, chunks, err := Build(path, "abc.txt", "", "", 2, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	wantHash := sha512.Sum512([]byte("abc"))
	if string(fileHash) != string(wantHash[:]) {
		t.Fatal("file hash mismatch")
	}
	if string(chunks[0].Data) != "ab" || chunks[0].FileOffset != 0 || chunks[0].Index != 1 {
		t.Fatalf("unexpected first chunk: %+v", chunks[0])
	}
	if string(chunks[1].Data) != "c" || chunks[1].FileOffset != 2 || chunks[1].Index != 2 {
		t.Fatalf("unexpected second chunk: %+v", chunks[1])
	}
	for _, c := range chunks {
		if string(c.FileHash) != string(wantHash[:]) {
			t.Fatal("every chunk must carry the whole-file hash")
		}
		if c.NTotal != 2 {
			t.Fatalf("expected n_total=2, got %d", c.NTotal)
		}
	}
}

// S2: a file of size exactly chunk_size yields exactly one chunk.
func TestBuildScenarioS2(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 8)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTempFile(t, dir, "exact.bin", content)

	_, chunks, err := Build(path, "exact.bin", "", "", 8, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Length != 8 || chunks[0].Index != 1 || chunks[0].NTotal != 1 {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

// S3: an empty file yields zero chunks.
func TestBuildScenarioS3(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "empty.txt", nil)

	_, chunks, err := Build(path, "empty.txt", "", "", 4, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks for empty file, got %d", len(chunks))
	}
}

// S4: selected ranges restrict which bytes are chunked and renumber
// chunk_offset densely while file_offset tracks the absolute position.
func TestBuildScenarioS4(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "ranges.txt", []byte("abcdefg"))

	fileHash, chunks, err := Build(path, "ranges.txt", "", "", 4, []ByteRange{{Start: 0, Stop: 2}, {Start: 5, Stop: 7}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if string(chunks[0].Data) != "ab" || chunks[0].FileOffset != 0 || chunks[0].ChunkOffset != 0 {
		t.Fatalf("unexpected first chunk: %+v", chunks[0])
	}
	if string(chunks[1].Data) != "fg" || chunks[1].FileOffset != 5 || chunks[1].ChunkOffset != 2 {
		t.Fatalf("unexpected second chunk: %+v", chunks[1])
	}
	wantHash := sha512.Sum512([]byte("abfg"))
	if string(fileHash) != string(wantHash[:]) {
		t.Fatal("selected-range file hash should cover only selected bytes")
	}
}

func TestBuildRejectsMalformedRanges(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "bad.txt", []byte("abcdefg"))

	if _, _, err := Build(path, "bad.txt", "", "", 4, []ByteRange{{Start: 3, Stop: 3}}); err == nil {
		t.Fatal("expected error for start == stop range")
	}
}

// Invariant 4: chunk_offset values are disjoint and contiguous from 0 to
// sum(length).
func TestBuildChunkOffsetsAreContiguous(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 37)
	path := writeTempFile(t, dir, "contig.bin", content)

	_, chunks, err := Build(path, "contig.bin", "", "", 8, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var expected uint64
	for _, c := range chunks {
		if c.ChunkOffset != expected {
			t.Fatalf("expected chunk_offset %d, got %d", expected, c.ChunkOffset)
		}
		expected += uint64(c.Length)
	}
	if expected != uint64(len(content)) {
		t.Fatalf("chunk offsets did not cover whole file: got %d want %d", expected, len(content))
	}
}
