// Package config loads and validates chunkstream's daemon configuration
// using a defaults-then-validate pattern: start from defaults, overlay the
// YAML file, reject anything out of range.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds every option the upload and download daemons accept. Not
// every field applies to both sides; daemons ignore the options they
// don't use rather than erroring on them.
type Config struct {
	// ChunkSize is the number of bytes per chunk. Must be a power of two.
	ChunkSize uint32 `yaml:"chunk_size"`

	// NThreads is the number of parallel upload workers.
	NThreads int `yaml:"n_threads"`

	// QueueMaxSize bounds the in-memory upload queue.
	QueueMaxSize int `yaml:"queue_max_size"`

	// ChunksPerEnqueueCall bounds how many chunks UploadFile.EnqueueChunks
	// moves into the queue per call. Defaults to 5*NThreads when left
	// unset, rather than a fixed hardcoded constant.
	ChunksPerEnqueueCall int `yaml:"chunks_per_enqueue_call"`

	// UpdateSeconds controls the liveness log cadence; -1 disables it.
	UpdateSeconds int `yaml:"update_seconds"`

	// TopicName is the broker topic chunks are published to and consumed
	// from.
	TopicName string `yaml:"topic_name"`

	// ConsumerGroupID identifies a download daemon's consumer group.
	// Defaults to a fresh UUIDv1 so independent runs don't collide.
	ConsumerGroupID string `yaml:"consumer_group_id"`

	// BrokerAddress is the TCP address of the broker.
	BrokerAddress string `yaml:"broker_address"`

	// NewFilesOnly, when true, skips files already recorded in the
	// persisted upload registry instead of re-chunking and re-publishing
	// them.
	NewFilesOnly bool `yaml:"new_files_only"`

	// RegistryDir is where the badger-backed upload registry is stored.
	RegistryDir string `yaml:"registry_dir"`

	// OutputDir is the root directory a download daemon reconstructs files
	// under.
	OutputDir string `yaml:"output_dir"`
}

// Default returns a Config with every field set to a sensible
// default.
func Default() Config {
	return Config{
		ChunkSize:     524288,
		NThreads:      2,
		QueueMaxSize:  1000,
		UpdateSeconds: 300,
		TopicName:     "chunks",
		RegistryDir:   ".chunkstream-registry",
	}
}

// Load reads filename as YAML over Default(), so fields absent from the
// file keep their default values while fields set explicitly (even to
// zero) keep the file's value. It sets ChunksPerEnqueueCall to 5*NThreads
// when it is not positive, assigns a fresh UUIDv1 consumer group if none
// was given, and validates the result.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", filename, err)
		}
		loaded := Default()
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", filename, err)
		}
		cfg = loaded
	}

	if cfg.ChunksPerEnqueueCall <= 0 {
		cfg.ChunksPerEnqueueCall = 5 * cfg.NThreads
	}

	if cfg.ConsumerGroupID == "" {
		id, err := uuid.NewUUID()
		if err != nil {
			return nil, fmt.Errorf("generate consumer group id: %w", err)
		}
		cfg.ConsumerGroupID = id.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configuration values are out of range, returning a
// CONFIG_INVALID-style error naming the offending field.
func (c *Config) Validate() error {
	if c.ChunkSize == 0 || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return fmt.Errorf("config invalid: chunk_size must be a power of two, got %d", c.ChunkSize)
	}
	if c.NThreads < 1 {
		return fmt.Errorf("config invalid: n_threads must be at least 1, got %d", c.NThreads)
	}
	if c.QueueMaxSize < 1 {
		return fmt.Errorf("config invalid: queue_max_size must be at least 1, got %d", c.QueueMaxSize)
	}
	if c.ChunksPerEnqueueCall < 1 {
		return fmt.Errorf("config invalid: chunks_per_enqueue_call must be at least 1, got %d", c.ChunksPerEnqueueCall)
	}
	if c.UpdateSeconds < -1 {
		return fmt.Errorf("config invalid: update_seconds must be -1 or non-negative, got %d", c.UpdateSeconds)
	}
	if c.TopicName == "" {
		return fmt.Errorf("config invalid: topic_name must not be empty")
	}
	return nil
}
