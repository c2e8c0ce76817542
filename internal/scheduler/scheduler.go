package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finvera/txn-engine/internal/metrics"
	repo "github.com/finvera/txn-engine/internal/repository"
	"github.com/finvera/txn-engine/internal/services"
	"github.com/finvera/txn-engine/internal/worker"
)

// Scheduler polls for due work on a fixed cadence and drives the engine over
// each claimed row with bounded fan-out. It is a background loop: ticks return
// nothing to any caller.
//
// The busy flag only guards re-entry within this process. Cross-instance
// safety comes from the repository's atomic claim.
type Scheduler struct {
	trx      repo.Transactions
	engine   *services.Engine
	pool     *worker.Pool
	interval time.Duration
	batch    int
	log      *slog.Logger
	now      func() time.Time

	busy atomic.Bool
	stop chan struct{}
	done chan struct{}
}

func New(trx repo.Transactions, engine *services.Engine, pool *worker.Pool, interval time.Duration, batch int, log *slog.Logger) *Scheduler {
	return &Scheduler{
		trx:      trx,
		engine:   engine,
		pool:     pool,
		interval: interval,
		batch:    batch,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		s.log.Info("scheduler started", "interval", s.interval, "batch", s.batch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
				s.Tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	s.log.Info("scheduler stopped")
}

// Tick runs one scheduler pass. If the previous pass is still running the
// tick is skipped entirely, not queued.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.SchedulerTicksSkipped.Inc()
		s.log.Debug("tick skipped, previous still running")
		return
	}
	defer s.busy.Store(false)

	batch, err := s.trx.ClaimDue(ctx, s.batch, s.now())
	if err != nil {
		s.log.Error("claim due failed", "err", err)
		return
	}
	metrics.SchedulerBatchSize.Set(float64(len(batch)))
	metrics.SchedulerTicks.Inc()
	if len(batch) == 0 {
		return
	}

	// Failure-isolating join: each item lands in exactly one outcome bucket
	// and a slow or panicking item never aborts the rest.
	outcomes := make(chan services.Outcome, len(batch))
	var wg sync.WaitGroup
	for _, tx := range batch {
		tx := tx
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			outcomes <- s.engine.Execute(ctx, tx)
		})
	}
	wg.Wait()
	close(outcomes)

	var completed, retries, permanent, skipped int
	for o := range outcomes {
		switch o {
		case services.OutcomeCompleted:
			completed++
		case services.OutcomeRetryScheduled:
			retries++
		case services.OutcomeFailedPermanent:
			permanent++
		default:
			skipped++
		}
	}
	s.log.Info("tick done",
		"attempted", len(batch),
		"completed", completed,
		"retry_scheduled", retries,
		"failed_permanent", permanent,
		"skipped", skipped,
	)
}
