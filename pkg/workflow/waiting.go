package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/template"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9\-]+(\.[a-zA-Z0-9\-]+)*\.[a-zA-Z]{2,}$`)

// chainRunner is the slice of the engine the waiting controller re-enters
// after a response, an exhausted retry budget or a timeout.
type chainRunner interface {
	ContinueChain(ctx context.Context, workflow *models.Workflow, execution *models.Execution, startNodes []*models.WorkflowNode, execContext map[string]any, reason string) error
}

// WaitingController drives the waiting node state machine: send the prompt
// and park the execution, then validate responses with a retry budget, exit
// keywords and an optional timeout. Response and timeout callbacks are
// delivered at least once, so every state transition is guarded by a
// (execution, node) scoped lock plus a done marker.
type WaitingController struct {
	executions persistence.ExecutionRepository
	responses  persistence.ResponseRepository
	profiles   persistence.ProfileRepository
	flags      kv.Store
	sched      scheduler.Scheduler
	resolver   *NextNodeResolver
	msg        *messenger
	runner     chainRunner
	logger     *slog.Logger
	cfg        Config
}

func NewWaitingController(
	p persistence.Persistence,
	flags kv.Store,
	sched scheduler.Scheduler,
	resolver *NextNodeResolver,
	msg *messenger,
	logger *slog.Logger,
	cfg Config,
) *WaitingController {
	return &WaitingController{
		executions: p.ExecutionRepository(),
		responses:  p.ResponseRepository(),
		profiles:   p.ProfileRepository(),
		flags:      flags,
		sched:      sched,
		resolver:   resolver,
		msg:        msg,
		logger:     logger.With("module", "waiting_controller"),
		cfg:        cfg.withDefaults(),
	}
}

// SetChainRunner wires the engine in after construction; the engine owns the
// controller and the controller re-enters the engine on resume.
func (c *WaitingController) SetChainRunner(runner chainRunner) {
	c.runner = runner
}

// Enter sends the waiting node's prompt, disables the AI responder for the
// conversation and schedules the timeout callback when one is configured.
// The engine parks the execution when it sees WaitingForResponse.
func (c *WaitingController) Enter(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	cfg := node.Waiting
	if cfg == nil {
		return failure(node.ID, "waiting node %s has no waiting payload", node.ID)
	}

	// A graph may route back into this node within the same execution.
	// Each entry is a fresh attempt: the previous attempt's done marker and
	// retry counter must not leak into it.
	if err := c.flags.Delete(ctx, waitingDoneKey(execution.ID, node.ID)); err != nil {
		c.logger.WarnContext(ctx, "failed to clear done marker",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	if err := c.flags.Delete(ctx, waitingErrorsKey(execution.ID, node.ID)); err != nil {
		c.logger.WarnContext(ctx, "failed to clear retry counter",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	content, err := template.Render(cfg.CustomerMessage, execContext)
	if err != nil {
		return failure(node.ID, "waiting: %v", err)
	}

	if err := c.msg.deliver(ctx, execution, content); err != nil {
		return failure(node.ID, "waiting: %v", err)
	}

	c.setAIFlag(ctx, execution.ConversationID, false)

	if cfg.TimeoutEnabled && cfg.Timeout != nil {
		err := c.sched.ScheduleAfter(ctx, cfg.Timeout.Duration(), scheduler.Task{
			Kind:        scheduler.TaskWaitingTimeout,
			ExecutionID: execution.ID,
			NodeID:      node.ID,
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to schedule waiting timeout",
				"execution_id", execution.ID, "node_id", node.ID, "error", err)
		}
	}

	return models.NodeResult{
		NodeID:             node.ID,
		Success:            true,
		WaitingForResponse: true,
		Data: map[string]any{
			models.DataKeyMessageSent: content,
		},
	}
}

// ProcessResponse consumes one inbound reply for the waiting node the
// execution is parked on. Duplicate deliveries and stale executions return
// without effect.
func (c *WaitingController) ProcessResponse(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode, text string) error {
	release, proceed, err := c.acquire(ctx, execution.ID, node.ID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	defer release()

	stale, err := c.isStale(ctx, execution, node)
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	cfg := node.Waiting

	if matchesExitKeyword(cfg.ExitKeywords, text) {
		// The reply is recorded but not marked processed: an exit keyword
		// does not consume the once-only profile write.
		if err := c.saveResponse(ctx, execution, node, text, true, false, 0); err != nil {
			return err
		}

		return c.exit(ctx, workflow, execution, node, "exit_keyword")
	}

	valid, errMsg := validateResponse(cfg, text)
	if !valid {
		return c.handleInvalid(ctx, workflow, execution, node, text, errMsg)
	}

	return c.handleValid(ctx, workflow, execution, node, text)
}

// HandleTimeout exhausts a waiting node whose response never came. It runs
// the same guards as response handling so whichever of the two callbacks
// wins the lock is the only one that commits.
func (c *WaitingController) HandleTimeout(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode) error {
	release, proceed, err := c.acquire(ctx, execution.ID, node.ID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	defer release()

	stale, err := c.isStale(ctx, execution, node)
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	c.logger.InfoContext(ctx, "waiting node timed out",
		"execution_id", execution.ID, "node_id", node.ID)

	return c.exit(ctx, workflow, execution, node, "timeout")
}

// acquire takes the (execution, node) lock unless the done marker already
// exists or another caller holds it. proceed=false means the caller should
// silently return.
func (c *WaitingController) acquire(ctx context.Context, executionID, nodeID string) (release func(), proceed bool, err error) {
	doneKey := waitingDoneKey(executionID, nodeID)

	if _, done, err := c.flags.Get(ctx, doneKey); err != nil {
		return nil, false, err
	} else if done {
		return nil, false, nil
	}

	lockKey := waitingLockKey(executionID, nodeID)

	won, err := c.flags.TryAcquire(ctx, lockKey, c.cfg.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !won {
		return nil, false, nil
	}

	// Re-check after winning the lock: the previous holder may have
	// committed between our first check and the acquire.
	if _, done, err := c.flags.Get(ctx, doneKey); err != nil || done {
		c.flags.Release(ctx, lockKey)

		return nil, false, err
	}

	return func() { c.flags.Release(ctx, lockKey) }, true, nil
}

// isStale rejects callbacks that no longer apply: the execution moved on,
// it is parked on a different node, or a newer waiting execution superseded
// it for the conversation. Duplicate deliveries of a committed callback are
// the done marker's job; a processed-response check here would also reject
// genuine replies after the graph loops back into the same node.
func (c *WaitingController) isStale(ctx context.Context, execution *models.Execution, node *models.WorkflowNode) (bool, error) {
	if execution.Status != models.ExecutionWaiting {
		return true, nil
	}
	if execution.WaitingNodeID() != node.ID {
		return true, nil
	}

	latest, err := c.executions.LatestWaiting(ctx, execution.ConversationID)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.ID != execution.ID {
		return true, nil
	}

	return false, nil
}

func (c *WaitingController) handleInvalid(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode, text, errMsg string) error {
	count, err := c.bumpErrorCount(ctx, execution.ID, node.ID)
	if err != nil {
		return err
	}

	if err := c.saveResponse(ctx, execution, node, text, false, false, count); err != nil {
		return err
	}

	// AllowedErrors is the number of retries granted: the budget is spent
	// only once the count exceeds it.
	if count > node.Waiting.AllowedErrors {
		c.logger.InfoContext(ctx, "waiting node retry budget exhausted",
			"execution_id", execution.ID, "node_id", node.ID, "errors", count)

		return c.exit(ctx, workflow, execution, node, "retries_exhausted")
	}

	// Retry: resend the prompt, keep the execution parked and the AI off.
	if err := c.msg.deliver(ctx, execution, errMsg); err != nil {
		c.logger.ErrorContext(ctx, "failed to deliver retry prompt",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	return nil
}

func (c *WaitingController) handleValid(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode, text string) error {
	// The profile field is written at most once per (node, conversation),
	// checked before this response is recorded.
	prior, err := c.responses.ValidProcessedForConversation(ctx, node.ID, execution.ConversationID)
	if err != nil {
		return err
	}

	if err := c.saveResponse(ctx, execution, node, text, true, true, 0); err != nil {
		return err
	}

	if prior == nil {
		c.storeProfileField(ctx, execution.ProfileID, node.Waiting.StorageType, text)
	}

	execContext := models.CloneContext(execution.Context)
	execContext[models.DataKeyResponse] = text
	execContext[string(node.Waiting.StorageType)] = text

	execution.Context = execContext
	execution.ClearWaitingNode()
	execution.Status = models.ExecutionRunning

	if err := c.executions.Update(ctx, execution); err != nil {
		return err
	}

	if err := c.flags.Set(ctx, waitingDoneKey(execution.ID, node.ID), "1", c.cfg.DoneTTL); err != nil {
		c.logger.WarnContext(ctx, "failed to set done marker",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	result := models.NodeResult{NodeID: node.ID, Success: true}
	next := c.resolver.Resolve(ctx, workflow, node, result, execution.Context)

	// Hand the conversation back to the AI unless the chain immediately
	// parks on another waiting node, which manages the flag itself.
	if !anyWaiting(next) {
		c.setAIFlag(ctx, execution.ConversationID, true)
	}

	return c.runner.ContinueChain(ctx, workflow, execution, next, execution.Context, "response_valid")
}

// exit leaves the waiting state through the failure outcome: exit keywords,
// an exhausted retry budget and timeouts all resume the graph on the node's
// failure and skip connections. No profile field is written on this path.
func (c *WaitingController) exit(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode, reason string) error {
	execution.Context = models.CloneContext(execution.Context)
	execution.ClearWaitingNode()
	execution.Status = models.ExecutionRunning

	if err := c.executions.Update(ctx, execution); err != nil {
		return err
	}

	if err := c.flags.Set(ctx, waitingDoneKey(execution.ID, node.ID), "1", c.cfg.DoneTTL); err != nil {
		c.logger.WarnContext(ctx, "failed to set done marker",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	result := models.NodeResult{NodeID: node.ID, Error: reason}
	next := c.resolver.Resolve(ctx, workflow, node, result, execution.Context)

	if !anyWaiting(next) {
		c.setAIFlag(ctx, execution.ConversationID, true)
	}

	return c.runner.ContinueChain(ctx, workflow, execution, next, execution.Context, reason)
}

func (c *WaitingController) saveResponse(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, text string, valid, processed bool, errorCount int) error {
	response := &models.UserResponse{
		ExecutionID:    execution.ID,
		NodeID:         node.ID,
		ConversationID: execution.ConversationID,
		ProfileID:      execution.ProfileID,
		Text:           text,
		IsValid:        valid,
		ErrorCount:     errorCount,
		CreatedAt:      time.Now().UTC(),
	}

	if processed {
		now := time.Now().UTC()
		response.ProcessedAt = &now
	}

	return c.responses.Save(ctx, response)
}

// storeProfileField writes the validated value into the profile field the
// storage type maps to. Best effort: a failed write is logged but never
// aborts the state transition.
func (c *WaitingController) storeProfileField(ctx context.Context, profileID string, storage models.StorageType, value string) {
	profile, err := c.profiles.ByID(ctx, profileID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load profile for field write",
			"profile_id", profileID, "error", err)

		return
	}

	switch storage {
	case models.StorageEmail:
		profile.Email = strings.TrimSpace(value)
	case models.StoragePhone:
		profile.PhoneNumber = normalizePhone(value)
	default:
		profile.Description = value
	}

	if err := c.profiles.Save(ctx, profile); err != nil {
		c.logger.WarnContext(ctx, "failed to store profile field",
			"profile_id", profileID, "error", err)
	}
}

func (c *WaitingController) bumpErrorCount(ctx context.Context, executionID, nodeID string) (int, error) {
	key := waitingErrorsKey(executionID, nodeID)

	count := 0
	if raw, ok, err := c.flags.Get(ctx, key); err != nil {
		return 0, err
	} else if ok {
		count, _ = strconv.Atoi(raw)
	}

	count++

	if err := c.flags.Set(ctx, key, strconv.Itoa(count), c.cfg.DoneTTL); err != nil {
		return count, err
	}

	return count, nil
}

func (c *WaitingController) setAIFlag(ctx context.Context, conversationID string, enabled bool) {
	if conversationID == "" {
		return
	}

	value := aiDisabled
	if enabled {
		value = aiEnabled
	}

	if err := c.flags.Set(ctx, aiControlKey(conversationID), value, c.cfg.AIStateTTL); err != nil {
		c.logger.WarnContext(ctx, "failed to set ai control flag",
			"conversation_id", conversationID, "error", err)
	}
}

func matchesExitKeyword(keywords []string, text string) bool {
	trimmed := strings.TrimSpace(text)

	for _, keyword := range keywords {
		if strings.EqualFold(strings.TrimSpace(keyword), trimmed) {
			return true
		}
	}

	return false
}

// validateResponse checks the reply against the node's storage type and
// returns the retry prompt on failure. A configured error message overrides
// the generated one.
func validateResponse(cfg *models.WaitingConfig, text string) (bool, string) {
	switch cfg.StorageType {
	case models.StorageEmail:
		if emailPattern.MatchString(strings.TrimSpace(text)) {
			return true, ""
		}

		return false, errorMessageFor(cfg, fmt.Sprintf("%q is not a valid email address, please try again", text))
	case models.StoragePhone:
		digits := normalizePhone(text)

		stripped := strings.TrimPrefix(digits, "+")
		if len(stripped) >= 10 && len(stripped) <= 15 {
			return true, ""
		}

		return false, errorMessageFor(cfg, fmt.Sprintf("%q is not a valid phone number, please try again", text))
	default:
		return true, ""
	}
}

func errorMessageFor(cfg *models.WaitingConfig, generated string) string {
	if cfg.ErrorMessage != "" {
		return cfg.ErrorMessage
	}

	return generated
}

// normalizePhone strips everything but digits, keeping a leading plus.
func normalizePhone(value string) string {
	var b strings.Builder

	for i, r := range strings.TrimSpace(value) {
		if r == '+' && i == 0 {
			b.WriteRune(r)

			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func anyWaiting(nodes []*models.WorkflowNode) bool {
	for _, node := range nodes {
		if node.Type == models.NodeTypeWaiting {
			return true
		}
	}

	return false
}
