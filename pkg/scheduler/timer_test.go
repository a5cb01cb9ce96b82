package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestTimerScheduler_FiresTask(t *testing.T) {
	var (
		mu    sync.Mutex
		fired []Task
		done  = make(chan struct{})
	)

	s := NewTimerScheduler(func(_ context.Context, task Task) {
		mu.Lock()
		fired = append(fired, task)
		mu.Unlock()
		close(done)
	}, testLogger())

	defer s.Stop()

	task := Task{Kind: TaskResumeDelay, ExecutionID: "exec-1", NodeID: "delay-1"}
	require.NoError(t, s.ScheduleAfter(context.Background(), 5*time.Millisecond, task))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled task did not fire")
	}

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, fired, 1)
	assert.Equal(t, task, fired[0])
}

func TestTimerScheduler_StopCancelsPending(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)

	s := NewTimerScheduler(func(_ context.Context, _ Task) {
		mu.Lock()
		count++
		mu.Unlock()
	}, testLogger())

	require.NoError(t, s.ScheduleAfter(context.Background(), 50*time.Millisecond, Task{
		Kind:        TaskWaitingTimeout,
		ExecutionID: "exec-1",
		NodeID:      "wait-1",
	}))

	s.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "stopped scheduler must not fire")
}
