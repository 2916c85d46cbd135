package controlproc

import (
	"sync"
	"time"
)

// MultiThreadProcess runs NWorkers copies of a WorkerFunc concurrently,
// supervised by one control goroutine that polls the command channel and
// prints liveness lines: a pool of worker goroutines plus one supervising
// main loop.
type MultiThreadProcess struct {
	*Base
	worker   WorkerFunc
	nWorkers int
}

// WorkerFunc is one worker goroutine's body. stop is closed when the
// supervisor decides to shut down; a well-behaved worker must return
// promptly once stop fires.
type WorkerFunc func(workerIndex int, stop <-chan struct{}) error

// NewMultiThreadProcess constructs a MultiThreadProcess running nWorkers
// copies of worker. It logs through the default "controlproc" logger.
func NewMultiThreadProcess(worker WorkerFunc, nWorkers int, hooks Hooks, updateInterval time.Duration) *MultiThreadProcess {
	if nWorkers < 1 {
		nWorkers = 1
	}
	return &MultiThreadProcess{
		Base:     NewBase(hooks, updateInterval, nil),
		worker:   worker,
		nWorkers: nWorkers,
	}
}

// Run launches all workers and blocks, supervising the control channel,
// until a quit command arrives or every worker exits on its own. The first
// worker error is returned once all workers have stopped.
func (p *MultiThreadProcess) Run() error {
	p.setState(Running)
	defer p.finish()

	stop := make(chan struct{})
	errs := make(chan error, p.nWorkers)
	var wg sync.WaitGroup
	wg.Add(p.nWorkers)
	for i := 0; i < p.nWorkers; i++ {
		go func(idx int) {
			defer wg.Done()
			errs <- p.worker(idx, stop)
		}(i)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if p.UpdateInterval > 0 {
		ticker = time.NewTicker(p.UpdateInterval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	var firstErr error
	for {
		select {
		case cmd := <-p.commands:
			if p.handleCommand(cmd) {
				close(stop)
				<-allDone
				return p.firstWorkerError(errs)
			}
		case <-tickC:
			p.log.Info("process is still alive (%d workers running)", p.nWorkers)
			if p.hooks.OnCheck != nil {
				if err := p.hooks.OnCheck(); err != nil && firstErr == nil {
					firstErr = err
					close(stop)
					<-allDone
					return firstErr
				}
			}
		case <-allDone:
			return p.firstWorkerError(errs)
		}
	}
}

func (p *MultiThreadProcess) firstWorkerError(errs chan error) error {
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
