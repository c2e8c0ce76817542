package worker

import (
	"log/slog"
	"sync"

	"github.com/finvera/txn-engine/internal/metrics"
)

type task func()

// Pool is a fixed-size worker pool. A panicking task takes down neither its
// worker nor the batch it belongs to.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				runSafe(job)
				metrics.WorkerQueueDepth.Dec()
			}
		}()
	}
	return p
}

func runSafe(job task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker panic", "err", rec)
		}
	}()
	job()
}

func (p *Pool) Submit(f task) {
	metrics.WorkerQueueDepth.Inc()
	p.jobs <- f
}

func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
