// Package schedule runs jobs on standard 5-field cron expressions
// (minute hour day-of-month month day-of-week), for example "0 9 * * 1-5".
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule '%s': %w", spec, err)
	}
	return sched, nil
}

// Start runs job at every activation of spec, evaluated in loc, until ctx is
// done. Runs never overlap: the next activation is computed after job returns.
func Start(ctx context.Context, name, spec string, loc *time.Location, logger *zap.Logger, job func(context.Context)) error {
	sched, err := Parse(spec)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("scheduled", zap.String("job", name), zap.String("cron", spec))

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			logger.Debug("next run", zap.String("job", name), zap.Time("at", next), zap.Duration("in", wait.Round(time.Second)))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			job(ctx)
		}
	}()
	return nil
}
