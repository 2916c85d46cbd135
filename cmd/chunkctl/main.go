// Command chunkctl is an offline inspection and debugging tool for
// chunkstream's on-disk and wire formats: splitting a file into chunk
// records without a broker, or reporting a file's own hash the way the
// download side computes it.
//
// Called by: operators, for debugging uploads/downloads without a broker.
// Calls: internal/datafile, internal/chunk.
package main

import (
	"crypto/sha512"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmsi-go/chunkstream/internal/chunk"
	"github.com/openmsi-go/chunkstream/internal/datafile"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "chunk":
		runChunk(os.Args[2:])
	case "hash":
		runHash(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `chunkctl is an offline inspection tool for chunkstream.

Usage:
  chunkctl chunk -file <path> -size <bytes> -out <dir>
      Split a file into chunk records and write each as a .chunk file
      under -out, without needing a running broker.

  chunkctl hash -file <path>
      Print a file's SHA-512 hash the way the download daemon computes it
      after reconstruction.`)
}

func runChunk(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	file := fs.String("file", "", "file to chunk")
	size := fs.Uint("size", 524288, "chunk size in bytes, must be a power of two")
	out := fs.String("out", ".", "directory chunk records are written to")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "chunk: -file is required")
		os.Exit(2)
	}

	fileHash, chunks, err := datafile.Build(*file, filepath.Base(*file), "", "", uint32(*size), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunk: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "chunk: create output directory: %v\n", err)
		os.Exit(1)
	}

	for _, c := range chunks {
		c.FilePath = *file
		payload, err := chunk.Encode(c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chunk: encode chunk %d: %v\n", c.Index, err)
			os.Exit(1)
		}
		chunkPath := filepath.Join(*out, fmt.Sprintf("%s.%04d.chunk", filepath.Base(*file), c.Index))
		if err := os.WriteFile(chunkPath, payload, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "chunk: write %s: %v\n", chunkPath, err)
			os.Exit(1)
		}
	}

	fmt.Printf("file_hash=%s chunks=%d\n", hex.EncodeToString(fileHash), len(chunks))
}

func runHash(args []string) {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	file := fs.String("file", "", "file to hash")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "hash: -file is required")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}
	sum := sha512.Sum512(data)
	fmt.Println(hex.EncodeToString(sum[:]))
}
