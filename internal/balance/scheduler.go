package balance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/logging"
)

// Scheduler triggers monitoring passes on a fixed interval.
type Scheduler struct {
	monitor *Monitor
	done    chan struct{}
}

func NewScheduler(m *Monitor) *Scheduler {
	return &Scheduler{monitor: m, done: make(chan struct{})}
}

// Start runs a pass every interval until ctx is cancelled. Per-partner
// intervals still apply, so interval only bounds how often configs are
// looked at.
func (s *Scheduler) Start(ctx context.Context, every time.Duration) {
	log := logging.FromContext(ctx)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		log.Info("balance scheduler started", zap.Duration("interval", every))
		for {
			select {
			case <-ctx.Done():
				log.Info("balance scheduler stopped")
				return
			case <-ticker.C:
				report, err := s.monitor.Run(ctx, RunOptions{})
				switch {
				case errors.Is(err, ErrRunInProgress):
					log.Debug("balance pass skipped, another run holds the lock")
				case err != nil && ctx.Err() == nil:
					log.Error("balance pass failed", zap.Error(err))
				case err == nil:
					log.Info("balance pass completed", zap.Int("partners", len(report.Results)))
				}
			}
		}
	}()
}

// Done is closed once the scheduler goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
