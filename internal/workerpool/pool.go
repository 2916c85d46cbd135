package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/openmsi-go/chunkstream/internal/broker"
	"github.com/openmsi-go/chunkstream/internal/chunk"
	"github.com/openmsi-go/chunkstream/internal/logging"
)

// RetryPolicy bounds how many times a worker retries a failed publish
// before giving up on that chunk and logging it as dropped.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows a handful of attempts with a short fixed
// backoff, not an unbounded retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 200 * time.Millisecond}
}

// UploadWorkerPool runs NThreads workers that each pull chunks off a shared
// BoundedQueue and publish them to the broker independently, so a slow
// publish on one worker never blocks the others.
type UploadWorkerPool struct {
	queue    *BoundedQueue
	producer broker.Producer
	topic    string
	nThreads int
	retry    RetryPolicy
	log      *logging.Logger

	published  int64
	dropped    int64
	countersMu sync.Mutex
}

// NewUploadWorkerPool constructs a pool of nThreads workers publishing to
// topic from queue via producer.
func NewUploadWorkerPool(queue *BoundedQueue, producer broker.Producer, topic string, nThreads int, retry RetryPolicy, log *logging.Logger) *UploadWorkerPool {
	if log == nil {
		log = logging.Default("upload_worker_pool")
	}
	if nThreads < 1 {
		nThreads = 1
	}
	return &UploadWorkerPool{
		queue:    queue,
		producer: producer,
		topic:    topic,
		nThreads: nThreads,
		retry:    retry,
		log:      log,
	}
}

// Run starts all workers and blocks until the queue is closed and fully
// drained, or ctx is canceled. Once every worker has returned, Run always
// flushes the producer before returning, even on a canceled ctx, so chunks
// already handed off to the producer are not lost on shutdown.
func (p *UploadWorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(p.nThreads)
	for i := 0; i < p.nThreads; i++ {
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()

	flushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	flushErr := p.producer.Flush(flushCtx)

	if err := ctx.Err(); err != nil {
		if flushErr != nil {
			p.log.Error("flush on shutdown failed: %v", flushErr)
		}
		return err
	}
	return flushErr
}

func (p *UploadWorkerPool) runWorker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		c, ok := p.queue.Dequeue()
		if !ok {
			if p.queue.Closed() && p.queue.Len() == 0 {
				return
			}
			p.queue.Wait(ctx.Done())
			continue
		}

		if err := p.publishWithRetry(ctx, c); err != nil {
			p.countersMu.Lock()
			p.dropped++
			p.countersMu.Unlock()
			p.log.Error("worker %d: giving up on chunk %d/%d of %s after retries: %v", worker, c.Index, c.NTotal, c.FileName, err)
			continue
		}

		p.countersMu.Lock()
		p.published++
		p.countersMu.Unlock()
	}
}

func (p *UploadWorkerPool) publishWithRetry(ctx context.Context, c chunk.Chunk) error {
	payload, err := chunk.Encode(c)
	if err != nil {
		return err
	}

	attempts := p.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := p.producer.Publish(ctx, p.topic, payload); err != nil {
			lastErr = err
			p.log.Warn("publish attempt %d/%d failed for chunk %d/%d of %s: %v", attempt+1, attempts, c.Index, c.NTotal, c.FileName, err)
			select {
			case <-time.After(p.retry.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}

// Counters reports how many chunks this pool has published and dropped so
// far, for liveness reporting.
func (p *UploadWorkerPool) Counters() (published, dropped int64) {
	p.countersMu.Lock()
	defer p.countersMu.Unlock()
	return p.published, p.dropped
}
