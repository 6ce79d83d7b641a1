package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/metrics"
)

// Session timing, exchange-local.
const (
	openHour      = 9
	openMinute    = 30
	closeHour     = 16
	periodicStep  = 5 * time.Minute
	periodicGrace = 5 * time.Minute
)

type jobKind string

const (
	jobOpen     jobKind = "open"
	jobPeriodic jobKind = "periodic"
	jobClose    jobKind = "close"
)

// Scheduler fires the open, periodic, and close jobs at exchange-local
// times on trading days. Periodic runs that fire past the grace period are
// skipped; the open and close jobs always run, late or not, because the
// session bookkeeping they do must not be lost.
type Scheduler struct {
	Jobs  *Jobs
	Clock calendar.Clock
}

// Run blocks, firing jobs until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.Clock.Now()
		at, kind := nextFire(now)

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		fired := s.Clock.Now()
		if kind == jobPeriodic && fired.Sub(at) > periodicGrace {
			metrics.SchedulerMisfires.WithLabelValues(string(kind)).Inc()
			slog.Warn("periodic run skipped past grace period", "scheduled", at, "fired", fired)
			continue
		}

		s.runJob(ctx, kind)
	}
}

func (s *Scheduler) runJob(ctx context.Context, kind jobKind) {
	start := time.Now()
	var err error
	switch kind {
	case jobOpen:
		err = s.Jobs.RunAtOpen(ctx)
	case jobPeriodic:
		err = s.Jobs.RunPeriodic(ctx)
	case jobClose:
		err = s.Jobs.RunAtClose(ctx)
	}
	elapsed := time.Since(start)
	metrics.SchedulerJobDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if err != nil {
		slog.Error("scheduled job failed", "job", kind, "elapsed", elapsed, "error", err)
		return
	}
	slog.Info("scheduled job complete", "job", kind, "elapsed", elapsed)
}

// nextFire returns the next scheduled time strictly after now and which
// job fires then. The schedule on a trading day is open at 9:30, periodic
// ticks every five minutes from 9:35 through 15:55, and close at 16:00.
func nextFire(now time.Time) (time.Time, jobKind) {
	day := calendar.DateOf(now)
	for {
		if calendar.IsTradingDay(day) {
			open := day.Add(openHour*time.Hour + openMinute*time.Minute)
			if open.After(now) {
				return open, jobOpen
			}

			close := day.Add(closeHour * time.Hour)
			for tick := open.Add(periodicStep); tick.Before(close); tick = tick.Add(periodicStep) {
				if tick.After(now) {
					return tick, jobPeriodic
				}
			}
			if close.After(now) {
				return close, jobClose
			}
		}
		day = calendar.DateOf(calendar.NextTradingDate(day))
	}
}
