package controlproc

import "time"

// Iteration is one unit of work performed by a SingleThreadProcess's run
// loop. It returns an error only for conditions that should stop the
// process; returning nil and false for done simply continues looping.
type Iteration func() (done bool, err error)

// SingleThreadProcess runs one iteration callback repeatedly on the
// calling goroutine, polling the command channel between iterations: a
// single cooperative loop, not a fleet of workers.
type SingleThreadProcess struct {
	*Base
	iterate Iteration
}

// NewSingleThreadProcess constructs a SingleThreadProcess that logs through
// the default "controlproc" logger.
func NewSingleThreadProcess(iterate Iteration, hooks Hooks, updateInterval time.Duration) *SingleThreadProcess {
	return &SingleThreadProcess{
		Base:    NewBase(hooks, updateInterval, nil),
		iterate: iterate,
	}
}

// Run executes the control loop until a quit command arrives, the
// iteration reports done, or an error occurs. It returns the terminal
// error, or nil on a clean quit/done.
func (p *SingleThreadProcess) Run() error {
	p.setState(Running)
	defer p.finish()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if p.UpdateInterval > 0 {
		ticker = time.NewTicker(p.UpdateInterval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case cmd := <-p.commands:
			if p.handleCommand(cmd) {
				return nil
			}
		case <-tickC:
			p.log.Info("process is still alive")
			if p.hooks.OnCheck != nil {
				if err := p.hooks.OnCheck(); err != nil {
					return err
				}
			}
		default:
			done, err := p.iterate()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}
