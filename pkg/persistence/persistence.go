// Package persistence provides the data storage abstraction layer for
// workflow definitions, executions, user responses and the profile records
// automation acts on.
package persistence

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ResponseRepository() ResponseRepository
	ProfileRepository() ProfileRepository
	ConversationRepository() ConversationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository reads and writes workflow definitions. The engine only
// reads; writes come from the import surface.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	ByID(ctx context.Context, id string) (*models.Workflow, error)
	ActiveByOwner(ctx context.Context, ownerID string) ([]*models.Workflow, error)
	Active(ctx context.Context) ([]*models.Workflow, error)
}

// ExecutionRepository persists workflow executions and answers the waiting
// state queries the engine's guards depend on.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution) error
	ByID(ctx context.Context, id string) (*models.Execution, error)
	// Waiting returns the waiting execution for (workflow, conversation),
	// or nil when none exists.
	Waiting(ctx context.Context, workflowID, conversationID string) (*models.Execution, error)
	// LatestWaiting returns the most recently created waiting execution for
	// a conversation across all workflows, or nil.
	LatestWaiting(ctx context.Context, conversationID string) (*models.Execution, error)
}

// ResponseRepository persists user responses to waiting nodes.
type ResponseRepository interface {
	Save(ctx context.Context, response *models.UserResponse) error
	// ValidProcessed returns the valid, processed response for an
	// (execution, node) pair, or nil.
	ValidProcessed(ctx context.Context, executionID, nodeID string) (*models.UserResponse, error)
	// ValidProcessedForConversation returns the valid, processed response
	// for a (node, conversation) pair across executions, or nil. Guards the
	// once-only profile field write.
	ValidProcessedForConversation(ctx context.Context, nodeID, conversationID string) (*models.UserResponse, error)
}

type ProfileRepository interface {
	Save(ctx context.Context, profile *models.Profile) error
	ByID(ctx context.Context, id string) (*models.Profile, error)
}

type ConversationRepository interface {
	Save(ctx context.Context, conversation *models.Conversation) error
	ByID(ctx context.Context, id string) (*models.Conversation, error)
	// GetOrCreateForProfile returns the profile's conversation on the given
	// channel, creating it when absent. Idempotent.
	GetOrCreateForProfile(ctx context.Context, profileID, ownerID, channel string) (*models.Conversation, error)
	UpdateStatus(ctx context.Context, id string, status models.ConversationStatus, aiEnabled bool) error
	// MarkInboundAnswered marks the conversation's unanswered inbound
	// messages as answered so the AI responder will not pick them up.
	MarkInboundAnswered(ctx context.Context, id string) error
}
