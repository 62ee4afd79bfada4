package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type periodic struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
}

// Scheduler runs registered jobs once at start and then on their interval
// until Shutdown.
type Scheduler struct {
	logger *slog.Logger
	sink   ErrorSink
	jobs   []periodic

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an idle Scheduler. A nil sink logs through logger.
func NewScheduler(logger *slog.Logger, sink ErrorSink) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink(logger)
	}
	return &Scheduler{logger: logger, sink: sink}
}

// Every registers fn to run every interval. Jobs registered after Start are
// ignored until the next Start. A non-positive interval disables the job.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		s.logger.Info("scheduled job disabled", "job", name)
		return
	}
	s.jobs = append(s.jobs, periodic{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per job. Non-blocking.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j periodic) {
			defer s.wg.Done()

			s.runOnce(ctx, j)

			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.runOnce(ctx, j)
				case <-ctx.Done():
					return
				}
			}
		}(j)
	}
}

// Shutdown cancels running jobs and waits for their goroutines to exit.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context, j periodic) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.sink(j.name, err)
		return
	}
	s.logger.Debug("scheduled job finished", "job", j.name, "duration", time.Since(start))
}
