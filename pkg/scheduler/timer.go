package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TimerScheduler schedules tasks on in-process timers. Timers do not survive
// a process restart; the engine's lock/done-marker pattern tolerates both
// lost and duplicate deliveries, so a durable queue can replace this without
// engine changes.
type TimerScheduler struct {
	callback Callback
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewTimerScheduler(callback Callback, logger *slog.Logger) *TimerScheduler {
	return &TimerScheduler{
		callback: callback,
		logger:   logger.With("module", "timer_scheduler"),
		timers:   make(map[*time.Timer]struct{}),
	}
}

func (s *TimerScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.logger.DebugContext(ctx, "Scheduling task",
		"kind", task.Kind,
		"execution_id", task.ExecutionID,
		"node_id", task.NodeID,
		"delay", delay,
	)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()

		s.callback(context.Background(), task)
	})
	s.timers[timer] = struct{}{}

	return nil
}

// Stop cancels all outstanding timers.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	for timer := range s.timers {
		timer.Stop()
	}

	s.timers = make(map[*time.Timer]struct{})
}
