package models

import "time"

// ActionType is the closed set of action kinds the dispatcher understands.
type ActionType string

const (
	ActionSendMessage     ActionType = "send_message"
	ActionDelay           ActionType = "delay"
	ActionRedirect        ActionType = "redirect_conversation"
	ActionAddTag          ActionType = "add_tag"
	ActionRemoveTag       ActionType = "remove_tag"
	ActionTransferToHuman ActionType = "transfer_to_human"
	ActionWebhook         ActionType = "webhook"
	ActionCustomCode      ActionType = "custom_code"
	ActionControlAI       ActionType = "control_ai_response"
	ActionUpdateAIContext ActionType = "update_ai_context"
)

// RedirectDestinationAI hands the conversation back to the AI responder; any
// other destination routes it to human support.
const RedirectDestinationAI = "ai"

// ActionConfig is the payload of an action node. The field matching
// ActionType is consulted; the rest are ignored.
type ActionConfig struct {
	ActionType ActionType        `json:"action_type" validate:"required"`
	Message    string            `json:"message,omitempty"`
	Delay      *DurationConfig   `json:"delay,omitempty"`
	RedirectTo string            `json:"redirect_to,omitempty"`
	TagName    string            `json:"tag_name,omitempty"`
	Webhook    *WebhookConfig    `json:"webhook,omitempty"`
	Code       string            `json:"code,omitempty"`
	AIControl  *AIControlConfig  `json:"ai_control,omitempty"`
	AIContext  map[string]string `json:"ai_context,omitempty"`
}

// DurationUnit is the unit of a configured delay or timeout.
type DurationUnit string

const (
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// DurationConfig is an amount/unit pair used by delay actions and waiting
// node timeouts.
type DurationConfig struct {
	Amount int          `json:"amount" validate:"min=1"`
	Unit   DurationUnit `json:"unit"   validate:"required,oneof=minutes hours days"`
}

// Duration converts the amount/unit pair into a time.Duration. Unknown units
// fall back to minutes.
func (d DurationConfig) Duration() time.Duration {
	switch d.Unit {
	case UnitHours:
		return time.Duration(d.Amount) * time.Hour
	case UnitDays:
		return time.Duration(d.Amount) * 24 * time.Hour
	default:
		return time.Duration(d.Amount) * time.Minute
	}
}

// WebhookConfig configures the webhook action. Payload values are rendered
// against the execution context before sending.
type WebhookConfig struct {
	URL     string            `json:"url"    validate:"required,url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
}

// AIControlAction is the sub-action of a control_ai_response action.
type AIControlAction string

const (
	AIControlDisable         AIControlAction = "disable"
	AIControlEnable          AIControlAction = "enable"
	AIControlSetCustomPrompt AIControlAction = "set_custom_prompt"
	AIControlResetContext    AIControlAction = "reset_context"
)

// AIControlConfig configures a control_ai_response action.
type AIControlConfig struct {
	SubAction AIControlAction `json:"sub_action" validate:"required,oneof=disable enable set_custom_prompt reset_context"`
	Prompt    string          `json:"prompt,omitempty"`
}
