package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TickFunc receives the minute tick feeding scheduled when-nodes.
type TickFunc func(ctx context.Context, now time.Time)

// CronTicker emits one tick per minute. Scheduled when-nodes compare the
// localized tick time against their configured schedule with the engine's
// tolerance, so minute granularity is sufficient.
type CronTicker struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewCronTicker(tick TickFunc, logger *slog.Logger) (*CronTicker, error) {
	c := cron.New()

	_, err := c.AddFunc("* * * * *", func() {
		tick(context.Background(), time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	return &CronTicker{
		cron:   c,
		logger: logger.With("module", "cron_ticker"),
	}, nil
}

func (t *CronTicker) Start(ctx context.Context) {
	t.logger.InfoContext(ctx, "Starting schedule tick source")
	t.cron.Start()
}

func (t *CronTicker) Stop(ctx context.Context) {
	t.logger.InfoContext(ctx, "Stopping schedule tick source")

	stopCtx := t.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
