package workerpool

import (
	"context"
	"crypto/sha512"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmsi-go/chunkstream/internal/chunk"
)

type recordingProducer struct {
	mu         sync.Mutex
	published  [][]byte
	failTimes  int
	flushCalls int
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTimes > 0 {
		p.failTimes--
		return errors.New("simulated broker failure")
	}
	p.published = append(p.published, payload)
	return nil
}

func (p *recordingProducer) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushCalls++
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func sampleChunk(index, nTotal uint32) chunk.Chunk {
	hash := sha512.Sum512([]byte("x"))
	return chunk.Chunk{
		FilePath:  "/src/f.bin",
		FileName:  "f.bin",
		FileHash:  hash[:],
		ChunkHash: hash[:],
		Data:      []byte("x"),
		Length:    1,
		Index:     index,
		NTotal:    nTotal,
	}
}

func TestUploadWorkerPoolDrainsQueueAndFlushes(t *testing.T) {
	q := NewBoundedQueue(10)
	for i := uint32(1); i <= 5; i++ {
		if !q.Enqueue(sampleChunk(i, 5)) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	q.Close()

	producer := &recordingProducer{}
	pool := NewUploadWorkerPool(q, producer, "chunks.upload", 3, DefaultRetryPolicy(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	producer.mu.Lock()
	count := len(producer.published)
	flushes := producer.flushCalls
	producer.mu.Unlock()

	if count != 5 {
		t.Fatalf("expected 5 published chunks, got %d", count)
	}
	if flushes != 1 {
		t.Fatalf("expected exactly 1 flush call, got %d", flushes)
	}

	published, dropped := pool.Counters()
	if published != 5 || dropped != 0 {
		t.Fatalf("unexpected counters: published=%d dropped=%d", published, dropped)
	}
}

func TestUploadWorkerPoolRetriesThenSucceeds(t *testing.T) {
	q := NewBoundedQueue(1)
	q.Enqueue(sampleChunk(1, 1))
	q.Close()

	producer := &recordingProducer{failTimes: 2}
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}
	pool := NewUploadWorkerPool(q, producer, "chunks.upload", 1, policy, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	published, dropped := pool.Counters()
	if published != 1 || dropped != 0 {
		t.Fatalf("expected eventual success, got published=%d dropped=%d", published, dropped)
	}
}

func TestUploadWorkerPoolFlushesOnCanceledContext(t *testing.T) {
	q := NewBoundedQueue(10)
	// Queue stays open (never closed) so runWorker only returns via ctx
	// cancellation, not queue drain.
	producer := &recordingProducer{}
	pool := NewUploadWorkerPool(q, producer, "chunks.upload", 2, DefaultRetryPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- pool.Run(ctx) }()

	cancel()
	if err := <-runErrCh; err == nil {
		t.Fatal("expected Run to return the cancellation error")
	}

	producer.mu.Lock()
	flushes := producer.flushCalls
	producer.mu.Unlock()
	if flushes != 1 {
		t.Fatalf("expected Run to flush even on a canceled context, got %d flush calls", flushes)
	}
}

func TestUploadWorkerPoolDropsAfterRetriesExhausted(t *testing.T) {
	q := NewBoundedQueue(1)
	q.Enqueue(sampleChunk(1, 1))
	q.Close()

	producer := &recordingProducer{failTimes: 100}
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	pool := NewUploadWorkerPool(q, producer, "chunks.upload", 1, policy, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	published, dropped := pool.Counters()
	if published != 0 || dropped != 1 {
		t.Fatalf("expected the chunk to be dropped, got published=%d dropped=%d", published, dropped)
	}
}
