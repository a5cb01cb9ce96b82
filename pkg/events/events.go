// Package events defines the inbound automation events the engine reacts to
// and the lifecycle events it publishes while driving executions.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic carrying every convoflow event.
const Topic = "convoflow.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound events feeding the engine.
	AutomationEventReceived   EventType = "automation.event.received"
	UserResponseReceivedEvent EventType = "automation.response.received"

	// Execution lifecycle events published by the engine.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

// EventKind classifies an inbound automation event.
type EventKind string

const (
	KindMessageReceived EventKind = "message_received"
	KindTagAdded        EventKind = "tag_added"
	KindUserCreated     EventKind = "user_created"
	KindScheduleTick    EventKind = "schedule_tick"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	OwnerID   string         `json:"owner_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, ownerID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		OwnerID:   ownerID,
		Metadata:  make(map[string]any),
	}
}

// AutomationEvent is an inbound fact from the outside world: a message
// arrived, a tag was added, a customer was created, or the minute tick for
// scheduled triggers fired.
type AutomationEvent struct {
	BaseEvent

	Kind           EventKind      `json:"kind"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ProfileID      string         `json:"profile_id,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Content        string         `json:"content,omitempty"`
	Tag            string         `json:"tag,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (e AutomationEvent) GetType() EventType {
	return AutomationEventReceived
}

// UserResponseReceived carries a customer's reply for whatever waiting node
// their conversation is currently parked on.
type UserResponseReceived struct {
	BaseEvent

	ConversationID string `json:"conversation_id"`
	ProfileID      string `json:"profile_id,omitempty"`
	Text           string `json:"text"`
}

func (e UserResponseReceived) GetType() EventType {
	return UserResponseReceivedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	WorkflowID     string `json:"workflow_id"`
	ConversationID string `json:"conversation_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	WorkflowID    string `json:"workflow_id"`
	WaitingNodeID string `json:"waiting_node_id"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	NodeID      string `json:"node_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}
