package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/coderunner"
	"github.com/convoflow/convoflow/pkg/conditions"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
	"github.com/convoflow/convoflow/pkg/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingScheduler collects scheduled tasks instead of firing them, so
// tests can fire them by hand through Engine.HandleTask.
type recordingScheduler struct {
	mu     sync.Mutex
	tasks  []scheduler.Task
	delays []time.Duration
}

func (s *recordingScheduler) ScheduleAfter(_ context.Context, delay time.Duration, task scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
	s.delays = append(s.delays, delay)

	return nil
}

func (s *recordingScheduler) Tasks() []scheduler.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scheduler.Task, len(s.tasks))
	copy(out, s.tasks)

	return out
}

type testHarness struct {
	engine  *Engine
	store   *memory.Persistence
	flags   *kv.MemoryStore
	gateway *gateway.MemoryGateway
	hub     *broadcast.MemoryHub
	sched   *recordingScheduler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		store:   memory.NewPersistence(),
		flags:   kv.NewMemoryStore(),
		gateway: gateway.NewMemoryGateway(),
		hub:     broadcast.NewMemoryHub(),
		sched:   &recordingScheduler{},
	}

	h.engine = NewEngine(Dependencies{
		Persistence: h.store,
		Flags:       h.flags,
		Scheduler:   h.sched,
		Gateway:     h.gateway,
		Hub:         h.hub,
		Evaluator:   conditions.NewExprEvaluator(),
		Runner:      coderunner.NewExprRunner(),
		Logger:      testLogger(),
		Config:      DefaultConfig(),
	})

	return h
}

// seedConversation stores a profile and its conversation owned by ownerID.
func (h *testHarness) seedConversation(t *testing.T, ownerID string) (*models.Profile, *models.Conversation) {
	t.Helper()

	ctx := context.Background()

	profile := &models.Profile{ID: "profile-1", OwnerID: ownerID, Name: "Sara"}
	require.NoError(t, h.store.ProfileRepository().Save(ctx, profile))

	conversation := &models.Conversation{
		ID:        "conv-1",
		OwnerID:   ownerID,
		ProfileID: profile.ID,
		Channel:   "telegram",
		Status:    models.ConversationActive,
		AIEnabled: true,
	}
	require.NoError(t, h.store.ConversationRepository().Save(ctx, conversation))

	return profile, conversation
}

func (h *testHarness) aiFlag(t *testing.T, conversationID string) string {
	t.Helper()

	value, _, err := h.flags.Get(context.Background(), aiControlKey(conversationID))
	require.NoError(t, err)

	return value
}

func messageEvent(content string) *events.AutomationEvent {
	return &events.AutomationEvent{
		Kind:           events.KindMessageReceived,
		ConversationID: "conv-1",
		ProfileID:      "profile-1",
		Channel:        "telegram",
		Content:        content,
	}
}

func actionNode(id string, cfg models.ActionConfig) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: models.NodeTypeAction, Action: &cfg}
}

func conn(source, target string, kind models.ConnectionType) *models.NodeConnection {
	return &models.NodeConnection{
		ID:       source + "->" + target,
		SourceID: source,
		TargetID: target,
		Type:     kind,
	}
}
