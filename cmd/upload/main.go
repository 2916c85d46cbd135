// Command upload walks a directory tree, chunks every file it finds, and
// publishes the chunks to a broker topic using a pool of parallel workers.
//
// Called by: operators, or a process supervisor driving uploads directly.
// Calls: internal/config, internal/datafile, internal/workerpool,
// internal/broker, internal/store, internal/controlproc.
package main

import (
	"bufio"
	"context"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openmsi-go/chunkstream/internal/broker"
	"github.com/openmsi-go/chunkstream/internal/config"
	"github.com/openmsi-go/chunkstream/internal/controlproc"
	"github.com/openmsi-go/chunkstream/internal/datafile"
	"github.com/openmsi-go/chunkstream/internal/logging"
	"github.com/openmsi-go/chunkstream/internal/store"
	"github.com/openmsi-go/chunkstream/internal/workerpool"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	watchDir := flag.String("dir", ".", "directory tree to upload")
	brokerAddr := flag.String("broker", "", "broker TCP address (overrides config)")
	topic := flag.String("topic", "", "broker topic (overrides config)")
	newFilesOnly := flag.Bool("new_files_only", false, "skip files already recorded as fully uploaded")
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
	if *newFilesOnly {
		cfg.NewFilesOnly = true
	}

	logger := logging.Default("upload")
	logger.Info("chunk size %s, %d worker(s), queue capacity %d", humanize.Bytes(uint64(cfg.ChunkSize)), cfg.NThreads, cfg.QueueMaxSize)

	registry, err := store.OpenRegistry(cfg.RegistryDir)
	if err != nil {
		log.Fatalf("open upload registry: %v", err)
	}
	defer registry.Close()

	client, err := broker.NewClient(cfg.BrokerAddress, logger.Named("broker"))
	if err != nil {
		log.Fatalf("connect to broker: %v", err)
	}
	defer client.Close()

	queue := workerpool.NewBoundedQueue(cfg.QueueMaxSize)
	pool := workerpool.NewUploadWorkerPool(queue, client, cfg.TopicName, cfg.NThreads, workerpool.DefaultRetryPolicy(), logger.Named("worker_pool"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal %s, shutting down", sig)
		cancel()
	}()

	poolErrCh := make(chan error, 1)
	go func() { poolErrCh <- pool.Run(ctx) }()

	files, err := discoverFiles(*watchDir)
	if err != nil {
		log.Fatalf("discover files under %s: %v", *watchDir, err)
	}

	uploadFiles := make([]*datafile.UploadFile, 0, len(files))
	for _, path := range files {
		key := registryKey(*watchDir, path)
		if cfg.NewFilesOnly {
			uploaded, err := registry.WasUploaded(key)
			if err != nil {
				logger.Warn("registry lookup failed for %s: %v", path, err)
			} else if uploaded {
				logger.Info("skipping %s, already recorded as uploaded", path)
				continue
			}
		}
		uploadFiles = append(uploadFiles, datafile.NewUploadFile(path, *watchDir, "", cfg.ChunkSize, nil, logger.Named("upload_file")))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		enqueueAll(ctx, uploadFiles, queue, cfg.ChunksPerEnqueueCall, logger)
		for _, uf := range uploadFiles {
			if uf.Status() == datafile.StatusFullyEnqueued {
				registry.MarkUploaded(registryKey(*watchDir, uf.Path()))
			}
		}
		queue.Close()
	}()

	proc := controlproc.NewSingleThreadProcess(func() (bool, error) {
		select {
		case <-done:
			return true, nil
		case <-time.After(50 * time.Millisecond):
			return false, nil
		}
	}, controlproc.Hooks{
		OnCheck: func() error {
			var waiting, inProgress, fullyEnqueued, willNotUpload int
			for _, uf := range uploadFiles {
				switch uf.Status() {
				case datafile.StatusWaiting:
					waiting++
				case datafile.StatusInProgress:
					inProgress++
				case datafile.StatusFullyEnqueued:
					fullyEnqueued++
				case datafile.StatusWillNotUpload:
					willNotUpload++
				}
			}
			published, dropped := pool.Counters()
			logger.Info("files: %d waiting, %d in progress, %d fully enqueued, %d will not upload; chunks: %s published, %s dropped",
				waiting, inProgress, fullyEnqueued, willNotUpload, humanize.Comma(published), humanize.Comma(dropped))
			return nil
		},
		OnStop: func() {
			logger.Info("stopping: canceling in-flight work and closing the queue")
			cancel()
			queue.Close()
		},
	}, time.Duration(cfg.UpdateSeconds)*time.Second)
	go readControlCommands(proc, logger)

	if err := proc.Run(); err != nil {
		logger.Error("run loop exited with error: %v", err)
	}

	if err := <-poolErrCh; err != nil && ctx.Err() == nil {
		log.Fatalf("worker pool exited with error: %v", err)
	}
}

func discoverFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func registryKey(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func enqueueAll(ctx context.Context, files []*datafile.UploadFile, queue *workerpool.BoundedQueue, perCall int, logger *logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		remaining := 0
		for _, uf := range files {
			if uf.FullyEnqueued() {
				continue
			}
			uf.EnqueueChunks(queue, perCall)
			if !uf.FullyEnqueued() {
				remaining++
			}
		}
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
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
