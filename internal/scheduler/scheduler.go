package scheduler

import (
	"context"
	"time"

	"trawler/internal/logger"
)

// CadenceScheduler runs a task on a fixed cadence. Ticks are aligned to
// wall-clock multiples of the interval (a 1m cadence fires on the minute)
// so cycle timestamps line up with candle closes. A tick that runs long
// simply delays the next one; cycles never overlap.
type CadenceScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewCadenceScheduler(ctx context.Context, interval, offset time.Duration) *CadenceScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CadenceScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, invoking task once per cadence tick until the context is
// cancelled. Never call from more than one goroutine.
func (s *CadenceScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
		wait := wakeAt.Sub(now)
		if wait <= 0 {
			task()
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: context done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}
