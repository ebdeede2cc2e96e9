package workers

import (
	"context"
	"sync"
	"time"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/services"
	"go.uber.org/zap"
)

// Sweeper is the part of services.RetentionService the sweeper needs.
type Sweeper interface {
	Sweep(ctx context.Context, days int, dryRun bool) (services.RetentionReport, error)
}

// RetentionSweeper runs a retention sweep every interval until stopped.
type RetentionSweeper struct {
	sweeper  Sweeper
	interval time.Duration
	days     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRetentionSweeper(sweeper Sweeper, interval time.Duration, days int) *RetentionSweeper {
	return &RetentionSweeper{sweeper: sweeper, interval: interval, days: days}
}

// Start launches the background loop. The first sweep happens one interval
// after start.
func (s *RetentionSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Info("retention sweeper started",
			zap.Duration("interval", s.interval),
			zap.Int("days", s.days))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.sweeper.Sweep(ctx, s.days, false)
				if err != nil {
					logger.Warn("retention sweep failed", zap.Error(err))
					continue
				}
				if len(report.Entries) > 0 {
					logger.Info("retention sweep", zap.String("summary", report.Summary()))
				}
			}
		}
	}()
}

func (s *RetentionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}
