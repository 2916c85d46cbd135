// Command download subscribes to a broker topic and reconstructs every
// source file from its arriving chunks under an output directory.
//
// Called by: operators, or a process supervisor driving downloads directly.
// Calls: internal/config, internal/datafile, internal/broker,
// internal/store, internal/controlproc.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/openmsi-go/chunkstream/internal/broker"
	"github.com/openmsi-go/chunkstream/internal/chunk"
	"github.com/openmsi-go/chunkstream/internal/config"
	"github.com/openmsi-go/chunkstream/internal/controlproc"
	"github.com/openmsi-go/chunkstream/internal/datafile"
	"github.com/openmsi-go/chunkstream/internal/logging"
	"github.com/openmsi-go/chunkstream/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	outputDir := flag.String("output_dir", ".", "directory files are reconstructed under")
	brokerAddr := flag.String("broker", "", "broker TCP address (overrides config)")
	topic := flag.String("topic", "", "broker topic (overrides config)")
	groupID := flag.String("consumer_group_id", "", "consumer group id (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("config invalid: %v", err)
	}
	if *brokerAddr != "" {
		cfg.BrokerAddress = *brokerAddr
	}
	if *topic != "" {
		cfg.TopicName = *topic
	}
	if *groupID != "" {
		cfg.ConsumerGroupID = *groupID
	}
	cfg.OutputDir = *outputDir

	logger := logging.Default("download")

	dedup, err := store.NewDedupCache(100000)
	if err != nil {
		log.Fatalf("create dedup cache: %v", err)
	}
	defer dedup.Close()

	client, err := broker.NewClient(cfg.BrokerAddress, logger.Named("broker"))
	if err != nil {
		log.Fatalf("connect to broker: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal %s, shutting down", sig)
		cancel()
	}()

	messages, err := client.Subscribe(ctx, cfg.TopicName, cfg.ConsumerGroupID)
	if err != nil {
		log.Fatalf("subscribe to %s: %v", cfg.TopicName, err)
	}

	d := &downloader{
		outputDir: *outputDir,
		files:     make(map[chunk.Key]*datafile.DownloadFile),
		dedup:     dedup,
		log:       logger.Named("downloader"),
	}

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		d.consume(messages)
	}()

	proc := controlproc.NewSingleThreadProcess(func() (bool, error) {
		select {
		case <-consumeDone:
			return true, nil
		case <-ctx.Done():
			return true, nil
		case <-time.After(50 * time.Millisecond):
			return false, nil
		}
	}, controlproc.Hooks{
		OnCheck: func() error {
			d.log.Info("%d files in progress", d.fileCount())
			return nil
		},
		OnStop: func() {
			logger.Info("stopping: canceling the subscription")
			cancel()
		},
	}, time.Duration(cfg.UpdateSeconds)*time.Second)
	go readControlCommands(proc, logger)

	if err := proc.Run(); err != nil {
		logger.Error("run loop exited with error: %v", err)
	}
}

type downloader struct {
	mu        sync.Mutex
	outputDir string
	files     map[chunk.Key]*datafile.DownloadFile
	dedup     *store.DedupCache
	log       *logging.Logger
}

func (d *downloader) fileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

func (d *downloader) consume(messages <-chan broker.Message) {
	for msg := range messages {
		c, err := chunk.Decode(msg.Payload)
		if err != nil {
			d.log.Error("discarding malformed delivery on %s: %v", msg.Topic, err)
			continue
		}
		d.handle(c)
		if msg.Ack != nil {
			if err := msg.Ack(); err != nil {
				d.log.Warn("ack failed for chunk %d/%d of %s: %v", c.Index, c.NTotal, c.FileName, err)
			}
		}
	}
}

func (d *downloader) handle(c chunk.Chunk) {
	key := chunk.KeyOf(c)
	dedupKey := dedupKeyFor(key, c.ChunkOffset)
	if d.dedup.Seen(dedupKey) {
		return
	}

	df := d.fileFor(key, c)
	if df == nil {
		return
	}
	outcome, err := df.Write(c)
	if err != nil {
		d.log.Error("writing chunk %d/%d of %s: %v", c.Index, c.NTotal, c.FileName, err)
		return
	}

	switch outcome {
	case datafile.Success:
		d.log.Info("reconstructed %s", filepath.Join(c.Subdir, c.FileName))
		d.forget(key)
	case datafile.HashMismatch, datafile.PathMismatch:
		d.log.Error("chunk %d/%d of %s: %s", c.Index, c.NTotal, c.FileName, outcome)
	default:
		d.dedup.MarkSeen(dedupKey)
	}
}

func (d *downloader) fileFor(key chunk.Key, c chunk.Chunk) *datafile.DownloadFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	if df, ok := d.files[key]; ok {
		return df
	}
	outPath := filepath.Join(d.outputDir, c.Subdir, c.FileName)
	df, err := datafile.NewDownloadFile(outPath, c.FilePath, d.log.Named("download_file"))
	if err != nil {
		d.log.Error("creating download file for %s: %v", outPath, err)
		return df
	}
	d.files[key] = df
	return df
}

func (d *downloader) forget(key chunk.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, key)
}

func dedupKeyFor(key chunk.Key, chunkOffset uint64) string {
	return key.FileName + "|" + key.Subdir + "|" + key.FileHash + "|" + strconv.FormatUint(chunkOffset, 10)
}

func readControlCommands(proc *controlproc.SingleThreadProcess, logger *logging.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, ok := controlproc.ParseCommand(scanner.Text())
		if !ok {
			logger.Warn("unrecognized control command %q", scanner.Text())
			continue
		}
		proc.Send(cmd)
	}
}
