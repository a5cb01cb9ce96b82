package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/scheduler"
)

// waitingWorkflow asks a question, thanks the customer on success and
// apologizes on the failure path.
func waitingWorkflow(ownerID string, cfg models.WaitingConfig) *models.Workflow {
	return &models.Workflow{
		ID:      "wf-1",
		OwnerID: ownerID,
		Name:    "collect email",
		Active:  true,
		Nodes: []*models.WorkflowNode{
			whenNode(models.WhenConfig{WhenType: models.WhenReceiveMessage}),
			{ID: "w-1", Type: models.NodeTypeWaiting, Waiting: &cfg},
			actionNode("a-thanks", models.ActionConfig{ActionType: models.ActionSendMessage, Message: "Thanks {{.email}}"}),
			actionNode("a-sorry", models.ActionConfig{ActionType: models.ActionSendMessage, Message: "No worries"}),
		},
		Connections: []*models.NodeConnection{
			conn("when-1", "w-1", models.ConnectionSuccess),
			conn("w-1", "a-thanks", models.ConnectionSuccess),
			conn("w-1", "a-sorry", models.ConnectionFailure),
		},
	}
}

func emailConfig() models.WaitingConfig {
	return models.WaitingConfig{
		CustomerMessage: "What is your email?",
		StorageType:     models.StorageEmail,
		AllowedErrors:   2,
		ExitKeywords:    []string{"stop"},
	}
}

func startWaiting(t *testing.T, h *testHarness, cfg models.WaitingConfig) (*models.Workflow, *models.Execution) {
	t.Helper()

	h.seedConversation(t, "owner-1")
	wf := waitingWorkflow("owner-1", cfg)
	saveWorkflow(t, h, wf)

	execution, err := h.engine.Trigger(context.Background(), wf, messageEvent("hello"))
	require.NoError(t, err)
	require.NotNil(t, execution)
	require.Equal(t, models.ExecutionWaiting, execution.Status)
	require.Equal(t, "w-1", execution.WaitingNodeID())

	return wf, execution
}

func TestWaiting_PromptSentAndAIDisabled(t *testing.T) {
	h := newTestHarness(t)
	startWaiting(t, h, emailConfig())

	sent := h.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "What is your email?", sent[0].Content)

	assert.Equal(t, aiDisabled, h.aiFlag(t, "conv-1"))
}

func TestWaiting_ValidResponseStoresProfileFieldOnce(t *testing.T) {
	h := newTestHarness(t)
	_, execution := startWaiting(t, h, emailConfig())

	ctx := context.Background()

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@example.com"))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Empty(t, execution.WaitingNodeID())

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)

	// The response value flows into the downstream template.
	sent := h.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Thanks user@example.com", sent[1].Content)

	assert.Equal(t, aiEnabled, h.aiFlag(t, "conv-1"))

	// A later reply has no waiting execution to land on.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "other@example.com"))

	profile, err = h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)
}

func TestWaiting_DuplicateDeliverySuppressedByDoneMarker(t *testing.T) {
	h := newTestHarness(t)
	wf, execution := startWaiting(t, h, emailConfig())
	node := wf.NodeByID("w-1")

	ctx := context.Background()

	require.NoError(t, h.engine.waiting.ProcessResponse(ctx, wf, execution, node, "user@example.com"))

	sentAfterFirst := len(h.gateway.Sent())

	// The same callback delivered again within the marker TTL is a no-op.
	require.NoError(t, h.engine.waiting.ProcessResponse(ctx, wf, execution, node, "user@example.com"))

	assert.Len(t, h.gateway.Sent(), sentAfterFirst)

	response, err := h.store.ResponseRepository().ValidProcessed(ctx, execution.ID, "w-1")
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, "user@example.com", response.Text)
}

func TestWaiting_ExitKeywordSkipsProfileWrite(t *testing.T) {
	h := newTestHarness(t)
	_, execution := startWaiting(t, h, emailConfig())

	ctx := context.Background()

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "STOP"))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)

	// The failure branch ran.
	sent := h.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "No worries", sent[1].Content)

	assert.Equal(t, aiEnabled, h.aiFlag(t, "conv-1"))
}

func TestWaiting_ReentryAfterLoopBackAcceptsNewResponse(t *testing.T) {
	h := newTestHarness(t)
	h.seedConversation(t, "owner-1")

	// The failure branch nudges the customer and routes back into the same
	// waiting node for another attempt.
	wf := &models.Workflow{
		ID:      "wf-1",
		OwnerID: "owner-1",
		Name:    "collect email with nudge",
		Active:  true,
		Nodes: []*models.WorkflowNode{
			whenNode(models.WhenConfig{WhenType: models.WhenReceiveMessage}),
			{ID: "w-1", Type: models.NodeTypeWaiting, Waiting: &models.WaitingConfig{
				CustomerMessage: "What is your email?",
				StorageType:     models.StorageEmail,
				AllowedErrors:   2,
				ExitKeywords:    []string{"stop"},
			}},
			actionNode("a-nudge", models.ActionConfig{ActionType: models.ActionSendMessage, Message: "We really do need it"}),
			actionNode("a-thanks", models.ActionConfig{ActionType: models.ActionSendMessage, Message: "Thanks {{.email}}"}),
		},
		Connections: []*models.NodeConnection{
			conn("when-1", "w-1", models.ConnectionSuccess),
			conn("w-1", "a-thanks", models.ConnectionSuccess),
			conn("w-1", "a-nudge", models.ConnectionFailure),
			conn("a-nudge", "w-1", models.ConnectionSuccess),
		},
	}
	saveWorkflow(t, h, wf)

	ctx := context.Background()

	execution, err := h.engine.Trigger(ctx, wf, messageEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, models.ExecutionWaiting, execution.Status)

	// The exit keyword runs the failure branch, which re-parks on w-1.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "stop"))

	require.Equal(t, models.ExecutionWaiting, execution.Status)
	require.Equal(t, "w-1", execution.WaitingNodeID())

	// The second attempt must accept a reply; the first attempt's done
	// marker does not apply to it.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@example.com"))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	sent := h.gateway.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "What is your email?", sent[0].Content)
	assert.Equal(t, "We really do need it", sent[1].Content)
	assert.Equal(t, "What is your email?", sent[2].Content)
	assert.Equal(t, "Thanks user@example.com", sent[3].Content)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)

	assert.Equal(t, aiEnabled, h.aiFlag(t, "conv-1"))
}

func TestWaiting_ReentryResetsRetryBudget(t *testing.T) {
	h := newTestHarness(t)
	h.seedConversation(t, "owner-1")

	wf := &models.Workflow{
		ID:      "wf-1",
		OwnerID: "owner-1",
		Name:    "collect email with nudge",
		Active:  true,
		Nodes: []*models.WorkflowNode{
			whenNode(models.WhenConfig{WhenType: models.WhenReceiveMessage}),
			{ID: "w-1", Type: models.NodeTypeWaiting, Waiting: &models.WaitingConfig{
				CustomerMessage: "What is your email?",
				StorageType:     models.StorageEmail,
				AllowedErrors:   1,
			}},
			actionNode("a-nudge", models.ActionConfig{ActionType: models.ActionSendMessage, Message: "We really do need it"}),
		},
		Connections: []*models.NodeConnection{
			conn("when-1", "w-1", models.ConnectionSuccess),
			conn("w-1", "a-nudge", models.ConnectionFailure),
			conn("a-nudge", "w-1", models.ConnectionSuccess),
		},
	}
	saveWorkflow(t, h, wf)

	ctx := context.Background()

	execution, err := h.engine.Trigger(ctx, wf, messageEvent("hello"))
	require.NoError(t, err)

	// Spend the budget: one retry, then the second invalid reply exits via
	// the failure branch and re-parks on w-1.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "bad"))
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "worse"))

	require.Equal(t, models.ExecutionWaiting, execution.Status)
	require.Equal(t, "w-1", execution.WaitingNodeID())

	// A fresh attempt grants a fresh budget: an invalid reply earns a retry
	// prompt instead of exiting immediately.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "still bad"))

	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	assert.Contains(t, h.gateway.Sent()[len(h.gateway.Sent())-1].Content, "still bad")
}

func TestWaiting_RetryBudgetThenFailurePath(t *testing.T) {
	h := newTestHarness(t)

	cfg := emailConfig()
	cfg.ErrorMessage = "That does not look like an email, try again"

	_, execution := startWaiting(t, h, cfg)

	ctx := context.Background()

	// Two invalid replies each earn a retry prompt.
	for i := 0; i < 2; i++ {
		require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@@bad"))
		require.Equal(t, models.ExecutionWaiting, execution.Status)
	}

	sent := h.gateway.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "That does not look like an email, try again", sent[1].Content)
	assert.Equal(t, "That does not look like an email, try again", sent[2].Content)

	// The third invalid reply exhausts the budget and exits via failure.
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "still wrong"))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	sent = h.gateway.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "No worries", sent[3].Content)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
}

func TestWaiting_GeneratedErrorMessageNamesInput(t *testing.T) {
	h := newTestHarness(t)
	startWaiting(t, h, emailConfig())

	require.NoError(t, h.engine.ProcessResponse(context.Background(), "conv-1", "user@@bad"))

	sent := h.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Content, "user@@bad")
}

func TestWaiting_PhoneValidation(t *testing.T) {
	h := newTestHarness(t)

	cfg := emailConfig()
	cfg.StorageType = models.StoragePhone
	cfg.CustomerMessage = "What is your phone number?"

	_, execution := startWaiting(t, h, cfg)

	ctx := context.Background()

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "12345"))
	require.Equal(t, models.ExecutionWaiting, execution.Status)

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "+49 (171) 555-01234"))
	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, "+4917155501234", profile.PhoneNumber)
}

func TestWaiting_TimeoutExitsViaFailurePath(t *testing.T) {
	h := newTestHarness(t)

	cfg := emailConfig()
	cfg.TimeoutEnabled = true
	cfg.Timeout = &models.DurationConfig{Amount: 30, Unit: models.UnitMinutes}

	_, execution := startWaiting(t, h, cfg)

	ctx := context.Background()

	tasks := h.sched.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, scheduler.TaskWaitingTimeout, tasks[0].Kind)

	require.NoError(t, h.engine.HandleTask(ctx, tasks[0]))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	sent := h.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "No worries", sent[1].Content)

	// A duplicate timeout firing and a late reply both change nothing.
	require.NoError(t, h.engine.HandleTask(ctx, tasks[0]))
	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@example.com"))

	assert.Len(t, h.gateway.Sent(), 2)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
}

func TestWaiting_TimeoutAfterResponseIsNoop(t *testing.T) {
	h := newTestHarness(t)

	cfg := emailConfig()
	cfg.TimeoutEnabled = true
	cfg.Timeout = &models.DurationConfig{Amount: 30, Unit: models.UnitMinutes}

	_, execution := startWaiting(t, h, cfg)

	ctx := context.Background()

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@example.com"))
	require.Equal(t, models.ExecutionCompleted, execution.Status)

	sentBefore := len(h.gateway.Sent())

	tasks := h.sched.Tasks()
	require.Len(t, tasks, 1)
	require.NoError(t, h.engine.HandleTask(ctx, tasks[0]))

	assert.Len(t, h.gateway.Sent(), sentBefore)

	profile, err := h.store.ProfileRepository().ByID(ctx, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)
}

func TestWaiting_NextWaitingNodeKeepsAIDisabled(t *testing.T) {
	h := newTestHarness(t)
	h.seedConversation(t, "owner-1")

	wf := &models.Workflow{
		ID:      "wf-1",
		OwnerID: "owner-1",
		Name:    "two questions",
		Active:  true,
		Nodes: []*models.WorkflowNode{
			whenNode(models.WhenConfig{WhenType: models.WhenReceiveMessage}),
			{ID: "w-1", Type: models.NodeTypeWaiting, Waiting: &models.WaitingConfig{
				CustomerMessage: "What is your email?",
				StorageType:     models.StorageEmail,
				AllowedErrors:   1,
			}},
			{ID: "w-2", Type: models.NodeTypeWaiting, Waiting: &models.WaitingConfig{
				CustomerMessage: "And your phone number?",
				StorageType:     models.StoragePhone,
				AllowedErrors:   1,
			}},
		},
		Connections: []*models.NodeConnection{
			conn("when-1", "w-1", models.ConnectionSuccess),
			conn("w-1", "w-2", models.ConnectionSuccess),
		},
	}
	saveWorkflow(t, h, wf)

	ctx := context.Background()

	execution, err := h.engine.Trigger(ctx, wf, messageEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, models.ExecutionWaiting, execution.Status)

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "user@example.com"))

	// Parked again on the second question, AI still off.
	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	assert.Equal(t, "w-2", execution.WaitingNodeID())
	assert.Equal(t, aiDisabled, h.aiFlag(t, "conv-1"))

	require.NoError(t, h.engine.ProcessResponse(ctx, "conv-1", "+4917155501234"))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, aiEnabled, h.aiFlag(t, "conv-1"))
}
