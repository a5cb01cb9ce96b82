package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/coderunner"
	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/template"
)

// ContextKeyChannel is the execution context key holding the channel the
// triggering event arrived on.
const ContextKeyChannel = "channel"

const defaultChannel = "direct"

// ActionDispatcher executes one of the fixed set of action kinds and reports
// a uniform NodeResult.
type ActionDispatcher struct {
	conversations persistence.ConversationRepository
	profiles      persistence.ProfileRepository
	flags         kv.Store
	sched         scheduler.Scheduler
	runner        coderunner.Runner
	hub           broadcast.Hub
	httpClient    *http.Client
	logger        *slog.Logger
	cfg           Config
}

func NewActionDispatcher(
	conversations persistence.ConversationRepository,
	profiles persistence.ProfileRepository,
	flags kv.Store,
	sched scheduler.Scheduler,
	runner coderunner.Runner,
	hub broadcast.Hub,
	httpClient *http.Client,
	logger *slog.Logger,
	cfg Config,
) *ActionDispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &ActionDispatcher{
		conversations: conversations,
		profiles:      profiles,
		flags:         flags,
		sched:         sched,
		runner:        runner,
		hub:           hub,
		httpClient:    httpClient,
		logger:        logger.With("module", "action_dispatcher"),
		cfg:           cfg.withDefaults(),
	}
}

// Execute runs the node's action against the execution. External service
// failures surface as a failed result so failure connections can route them;
// they never panic the chain walk.
func (d *ActionDispatcher) Execute(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	if node.Action == nil {
		return failure(node.ID, "action node %s has no action payload", node.ID)
	}

	switch node.Action.ActionType {
	case models.ActionSendMessage:
		return d.sendMessage(ctx, execution, node, execContext)
	case models.ActionDelay:
		return d.delay(ctx, execution, node)
	case models.ActionRedirect:
		return d.redirect(ctx, execution, node)
	case models.ActionAddTag:
		return d.mutateTag(ctx, execution, node, true)
	case models.ActionRemoveTag:
		return d.mutateTag(ctx, execution, node, false)
	case models.ActionTransferToHuman:
		return d.transferToHuman(ctx, execution, node)
	case models.ActionWebhook:
		return d.webhook(ctx, node, execContext)
	case models.ActionCustomCode:
		return d.customCode(ctx, node, execContext)
	case models.ActionControlAI:
		return d.controlAI(ctx, execution, node, execContext)
	case models.ActionUpdateAIContext:
		return d.updateAIContext(ctx, execution, node, execContext)
	default:
		return failure(node.ID, "unknown action type %q", node.Action.ActionType)
	}
}

func (d *ActionDispatcher) sendMessage(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	if execution.ProfileID == "" {
		return failure(node.ID, "send_message: no profile on execution")
	}

	content, err := template.Render(node.Action.Message, execContext)
	if err != nil {
		return failure(node.ID, "send_message: %v", err)
	}
	if strings.TrimSpace(content) == "" {
		return failure(node.ID, "send_message: message rendered empty")
	}

	if execution.ConversationID == "" {
		channel, _ := execContext[ContextKeyChannel].(string)
		if channel == "" {
			channel = defaultChannel
		}

		conversation, err := d.conversations.GetOrCreateForProfile(ctx, execution.ProfileID, execution.OwnerID, channel)
		if err != nil {
			return failure(node.ID, "send_message: get or create conversation: %v", err)
		}

		execution.ConversationID = conversation.ID
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			models.DataKeyMessageSent: content,
		},
	}
}

func (d *ActionDispatcher) delay(ctx context.Context, execution *models.Execution, node *models.WorkflowNode) models.NodeResult {
	if node.Action.Delay == nil {
		return failure(node.ID, "delay: no duration configured")
	}

	wait := node.Action.Delay.Duration()

	err := d.sched.ScheduleAfter(ctx, wait, scheduler.Task{
		Kind:        scheduler.TaskResumeDelay,
		ExecutionID: execution.ID,
		NodeID:      node.ID,
	})
	if err != nil {
		return failure(node.ID, "delay: schedule resume: %v", err)
	}

	return models.NodeResult{
		NodeID:             node.ID,
		Success:            true,
		WaitingForResponse: true,
		Data: map[string]any{
			"delay_seconds": int(wait.Seconds()),
		},
	}
}

func (d *ActionDispatcher) redirect(ctx context.Context, execution *models.Execution, node *models.WorkflowNode) models.NodeResult {
	if execution.ConversationID == "" {
		return failure(node.ID, "redirect_conversation: no conversation on execution")
	}

	status := models.ConversationSupportActive
	aiOn := false
	if node.Action.RedirectTo == models.RedirectDestinationAI {
		status = models.ConversationActive
		aiOn = true
	}

	// Status persistence is the authoritative effect; the flag and the
	// broadcast below are best effort.
	if err := d.conversations.UpdateStatus(ctx, execution.ConversationID, status, aiOn); err != nil {
		return failure(node.ID, "redirect_conversation: %v", err)
	}

	d.setAIFlag(ctx, execution.ConversationID, aiOn)

	if err := d.hub.Broadcast(ctx, broadcast.Message{
		ConversationID: execution.ConversationID,
		Kind:           broadcast.KindConversationMode,
		Payload: map[string]any{
			"status":     string(status),
			"ai_enabled": aiOn,
		},
	}); err != nil {
		d.logger.WarnContext(ctx, "redirect broadcast failed",
			"conversation_id", execution.ConversationID, "error", err)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"conversation_status": string(status),
		},
	}
}

func (d *ActionDispatcher) mutateTag(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, add bool) models.NodeResult {
	name := strings.TrimSpace(node.Action.TagName)
	if name == "" {
		return failure(node.ID, "tag action: no tag name configured")
	}
	if execution.ProfileID == "" {
		return failure(node.ID, "tag action: no profile on execution")
	}

	profile, err := d.profiles.ByID(ctx, execution.ProfileID)
	if err != nil {
		return failure(node.ID, "tag action: %v", err)
	}

	changed := false
	if add {
		if !profile.HasTag(name) {
			profile.Tags = append(profile.Tags, name)
			changed = true
		}
	} else {
		kept := profile.Tags[:0]
		for _, tag := range profile.Tags {
			if tag == name {
				changed = true

				continue
			}
			kept = append(kept, tag)
		}
		profile.Tags = kept
	}

	if changed {
		if err := d.profiles.Save(ctx, profile); err != nil {
			return failure(node.ID, "tag action: save profile: %v", err)
		}
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"tag":     name,
			"changed": changed,
		},
	}
}

func (d *ActionDispatcher) transferToHuman(ctx context.Context, execution *models.Execution, node *models.WorkflowNode) models.NodeResult {
	// Marks intent only; the actual hand-off is a collaborator concern.
	d.logger.InfoContext(ctx, "transfer to human requested",
		"execution_id", execution.ID,
		"conversation_id", execution.ConversationID)

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"transfer_requested": true,
		},
	}
}

func (d *ActionDispatcher) webhook(ctx context.Context, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	cfg := node.Action.Webhook
	if cfg == nil || cfg.URL == "" {
		return failure(node.ID, "webhook: no url configured")
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(cfg.Payload) > 0 {
		rendered, err := template.RenderMap(cfg.Payload, execContext)
		if err != nil {
			return failure(node.ID, "webhook: render payload: %v", err)
		}

		encoded, err := json.Marshal(rendered)
		if err != nil {
			return failure(node.ID, "webhook: encode payload: %v", err)
		}

		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, body)
	if err != nil {
		return failure(node.ID, "webhook: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return failure(node.ID, "webhook: %v", err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(node.ID, "webhook: unexpected status %d", resp.StatusCode)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"status_code": resp.StatusCode,
		},
	}
}

func (d *ActionDispatcher) customCode(ctx context.Context, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	result, err := d.runner.Run(ctx, node.Action.Code, execContext)
	if err != nil {
		return failure(node.ID, "custom_code: %v", err)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data:    result,
	}
}

func (d *ActionDispatcher) controlAI(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	cfg := node.Action.AIControl
	if cfg == nil {
		return failure(node.ID, "control_ai_response: no sub-action configured")
	}
	if execution.ConversationID == "" {
		return failure(node.ID, "control_ai_response: no conversation on execution")
	}

	var err error

	switch cfg.SubAction {
	case models.AIControlDisable:
		err = d.flags.Set(ctx, aiControlKey(execution.ConversationID), aiDisabled, d.cfg.AIStateTTL)
	case models.AIControlEnable:
		err = d.flags.Set(ctx, aiControlKey(execution.ConversationID), aiEnabled, d.cfg.AIStateTTL)
	case models.AIControlSetCustomPrompt:
		var prompt string

		prompt, err = template.Render(cfg.Prompt, execContext)
		if err == nil {
			err = d.flags.Set(ctx, aiPromptKey(execution.ConversationID), prompt, d.cfg.AIStateTTL)
		}
	case models.AIControlResetContext:
		err = d.flags.Delete(ctx, aiContextKey(execution.ConversationID))
	default:
		return failure(node.ID, "control_ai_response: unknown sub-action %q", cfg.SubAction)
	}

	if err != nil {
		return failure(node.ID, "control_ai_response: %v", err)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"ai_control": string(cfg.SubAction),
		},
	}
}

func (d *ActionDispatcher) updateAIContext(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	if execution.ConversationID == "" {
		return failure(node.ID, "update_ai_context: no conversation on execution")
	}

	key := aiContextKey(execution.ConversationID)

	merged := make(map[string]string)
	if raw, ok, err := d.flags.Get(ctx, key); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			d.logger.WarnContext(ctx, "discarding unreadable ai context",
				"conversation_id", execution.ConversationID, "error", err)
			merged = make(map[string]string)
		}
	}

	for k, v := range node.Action.AIContext {
		rendered, err := template.Render(v, execContext)
		if err != nil {
			return failure(node.ID, "update_ai_context: render %q: %v", k, err)
		}

		merged[k] = rendered
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return failure(node.ID, "update_ai_context: %v", err)
	}

	if err := d.flags.Set(ctx, key, string(encoded), d.cfg.AIStateTTL); err != nil {
		return failure(node.ID, "update_ai_context: %v", err)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			"ai_context_keys": len(merged),
		},
	}
}

func (d *ActionDispatcher) setAIFlag(ctx context.Context, conversationID string, enabled bool) {
	value := aiDisabled
	if enabled {
		value = aiEnabled
	}

	if err := d.flags.Set(ctx, aiControlKey(conversationID), value, d.cfg.AIStateTTL); err != nil {
		d.logger.WarnContext(ctx, "failed to set ai control flag",
			"conversation_id", conversationID, "error", err)
	}
}

func failure(nodeID, format string, args ...any) models.NodeResult {
	return models.NodeResult{
		NodeID: nodeID,
		Error:  fmt.Sprintf(format, args...),
	}
}
