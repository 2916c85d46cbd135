package chunk

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrIncompleteChunk is returned by Decode when a required field is absent
// or malformed, so the caller can drop messages missing any required field.
type ErrIncompleteChunk struct {
	Field string
}

func (e *ErrIncompleteChunk) Error() string {
	return fmt.Sprintf("chunk message missing or malformed required field %q", e.Field)
}

// wireChunk mirrors Chunk field-for-field. msgpack already length-prefixes
// strings and byte blobs and writes each integer field at its Go type's
// width, giving a compact tagged encoding without a hand-rolled binary
// format.
type wireChunk struct {
	FilePath    string `msgpack:"file_path"`
	FileName    string `msgpack:"file_name"`
	FileHash    []byte `msgpack:"file_hash"`
	ChunkHash   []byte `msgpack:"chunk_hash"`
	FileOffset  uint64 `msgpack:"file_offset"`
	ChunkOffset uint64 `msgpack:"chunk_offset"`
	Length      uint32 `msgpack:"length"`
	Index       uint32 `msgpack:"index"`
	NTotal      uint32 `msgpack:"n_total"`
	Subdir      string `msgpack:"subdir"`
	Data        []byte `msgpack:"data"`
}

// Encode serializes c for transport as a single broker message value. The
// message key, when used, is recommended to be c.FileName so brokers that
// partition on key colocate one file's chunks. broker.Producer.Publish
// takes no key argument, so no message key is assigned.
func Encode(c Chunk) ([]byte, error) {
	w := wireChunk{
		FilePath:    c.FilePath,
		FileName:    c.FileName,
		FileHash:    c.FileHash,
		ChunkHash:   c.ChunkHash,
		FileOffset:  c.FileOffset,
		ChunkOffset: c.ChunkOffset,
		Length:      c.Length,
		Index:       c.Index,
		NTotal:      c.NTotal,
		Subdir:      c.Subdir,
		Data:        c.Data,
	}
	return msgpack.Marshal(&w)
}

// Decode parses a broker message value back into a Chunk, rejecting any
// message missing a required field or carrying a malformed one. Keys not
// belonging to wireChunk are ignored.
func Decode(payload []byte) (Chunk, error) {
	var fields map[string]interface{}
	if err := msgpack.Unmarshal(payload, &fields); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk message: %w", err)
	}
	for _, name := range []string{"file_path", "file_name", "file_hash", "chunk_hash", "file_offset",
		"chunk_offset", "length", "index", "n_total", "subdir", "data"} {
		if _, ok := fields[name]; !ok {
			return Chunk{}, &ErrIncompleteChunk{Field: name}
		}
	}

	var w wireChunk
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk message: %w", err)
	}

	switch {
	case w.FileName == "":
		return Chunk{}, &ErrIncompleteChunk{Field: "file_name"}
	case len(w.FileHash) != 64:
		return Chunk{}, &ErrIncompleteChunk{Field: "file_hash"}
	case len(w.ChunkHash) != 64:
		return Chunk{}, &ErrIncompleteChunk{Field: "chunk_hash"}
	case w.Length == 0:
		return Chunk{}, &ErrIncompleteChunk{Field: "length"}
	case w.Index == 0:
		return Chunk{}, &ErrIncompleteChunk{Field: "index"}
	case w.NTotal == 0:
		return Chunk{}, &ErrIncompleteChunk{Field: "n_total"}
	case w.Data == nil:
		return Chunk{}, &ErrIncompleteChunk{Field: "data"}
	case uint32(len(w.Data)) != w.Length:
		return Chunk{}, &ErrIncompleteChunk{Field: "data"}
	}

	return Chunk{
		FilePath:    w.FilePath,
		FileName:    w.FileName,
		FileHash:    w.FileHash,
		ChunkHash:   w.ChunkHash,
		FileOffset:  w.FileOffset,
		ChunkOffset: w.ChunkOffset,
		Length:      w.Length,
		Index:       w.Index,
		NTotal:      w.NTotal,
		Subdir:      w.Subdir,
		Data:        w.Data,
	}, nil
}
