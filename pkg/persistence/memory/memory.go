// Package memory provides an in-memory persistence implementation used by
// tests and single-process local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

type Persistence struct {
	mu sync.RWMutex

	workflows     map[string]*models.Workflow
	executions    map[string]*models.Execution
	responses     map[string]*models.UserResponse
	profiles      map[string]*models.Profile
	conversations map[string]*models.Conversation

	// answeredMarks counts MarkInboundAnswered calls per conversation so
	// tests can observe the side effect.
	answeredMarks map[string]int
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:     make(map[string]*models.Workflow),
		executions:    make(map[string]*models.Execution),
		responses:     make(map[string]*models.UserResponse),
		profiles:      make(map[string]*models.Profile),
		conversations: make(map[string]*models.Conversation),
		answeredMarks: make(map[string]int),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{p}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{p}
}

func (p *Persistence) ResponseRepository() persistence.ResponseRepository {
	return &responseRepository{p}
}

func (p *Persistence) ProfileRepository() persistence.ProfileRepository {
	return &profileRepository{p}
}

func (p *Persistence) ConversationRepository() persistence.ConversationRepository {
	return &conversationRepository{p}
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// AnsweredMarks returns how often MarkInboundAnswered ran for a conversation.
func (p *Persistence) AnsweredMarks(conversationID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.answeredMarks[conversationID]
}

type workflowRepository struct{ p *Persistence }

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	r.p.workflows[workflow.ID] = workflow

	return nil
}

func (r *workflowRepository) ByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (r *workflowRepository) ActiveByOwner(_ context.Context, ownerID string) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if workflow.Active && workflow.OwnerID == ownerID {
			workflows = append(workflows, workflow)
		}
	}

	sortWorkflows(workflows)

	return workflows, nil
}

func (r *workflowRepository) Active(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if workflow.Active {
			workflows = append(workflows, workflow)
		}
	}

	sortWorkflows(workflows)

	return workflows, nil
}

func sortWorkflows(workflows []*models.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].ID < workflows[j].ID
	})
}

type executionRepository struct{ p *Persistence }

func (r *executionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if execution.ID == "" {
		execution.ID = "exec-" + uuid.New().String()[:8]
	}

	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	r.p.executions[execution.ID] = execution

	return nil
}

func (r *executionRepository) Update(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.executions[execution.ID]; !ok {
		return persistence.ErrExecutionNotFound
	}

	execution.UpdatedAt = time.Now().UTC()
	r.p.executions[execution.ID] = execution

	return nil
}

func (r *executionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

func (r *executionRepository) Waiting(_ context.Context, workflowID, conversationID string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var latest *models.Execution

	for _, execution := range r.p.executions {
		if execution.Status != models.ExecutionWaiting {
			continue
		}

		if execution.WorkflowID != workflowID || execution.ConversationID != conversationID {
			continue
		}

		if latest == nil || execution.CreatedAt.After(latest.CreatedAt) {
			latest = execution
		}
	}

	return latest, nil
}

func (r *executionRepository) LatestWaiting(_ context.Context, conversationID string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var latest *models.Execution

	for _, execution := range r.p.executions {
		if execution.Status != models.ExecutionWaiting || execution.ConversationID != conversationID {
			continue
		}

		if latest == nil || execution.CreatedAt.After(latest.CreatedAt) {
			latest = execution
		}
	}

	return latest, nil
}

type responseRepository struct{ p *Persistence }

func (r *responseRepository) Save(_ context.Context, response *models.UserResponse) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if response.ID == "" {
		response.ID = "resp-" + uuid.New().String()[:8]
	}

	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}

	r.p.responses[response.ID] = response

	return nil
}

func (r *responseRepository) ValidProcessed(_ context.Context, executionID, nodeID string) (*models.UserResponse, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, response := range r.p.responses {
		if response.ExecutionID == executionID && response.NodeID == nodeID &&
			response.IsValid && response.ProcessedAt != nil {
			return response, nil
		}
	}

	return nil, nil
}

func (r *responseRepository) ValidProcessedForConversation(_ context.Context, nodeID, conversationID string) (*models.UserResponse, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, response := range r.p.responses {
		if response.NodeID == nodeID && response.ConversationID == conversationID &&
			response.IsValid && response.ProcessedAt != nil {
			return response, nil
		}
	}

	return nil, nil
}

type profileRepository struct{ p *Persistence }

func (r *profileRepository) Save(_ context.Context, profile *models.Profile) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.profiles[profile.ID] = profile

	return nil
}

func (r *profileRepository) ByID(_ context.Context, id string) (*models.Profile, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	profile, ok := r.p.profiles[id]
	if !ok {
		return nil, persistence.ErrProfileNotFound
	}

	return profile, nil
}

type conversationRepository struct{ p *Persistence }

func (r *conversationRepository) Save(_ context.Context, conversation *models.Conversation) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}

	r.p.conversations[conversation.ID] = conversation

	return nil
}

func (r *conversationRepository) ByID(_ context.Context, id string) (*models.Conversation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	conversation, ok := r.p.conversations[id]
	if !ok {
		return nil, persistence.ErrConversationNotFound
	}

	return conversation, nil
}

func (r *conversationRepository) GetOrCreateForProfile(_ context.Context, profileID, ownerID, channel string) (*models.Conversation, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, conversation := range r.p.conversations {
		if conversation.ProfileID == profileID && conversation.Channel == channel {
			return conversation, nil
		}
	}

	conversation := &models.Conversation{
		ID:        "conv-" + uuid.New().String()[:8],
		OwnerID:   ownerID,
		ProfileID: profileID,
		Channel:   channel,
		Status:    models.ConversationActive,
		AIEnabled: true,
		CreatedAt: time.Now().UTC(),
	}
	r.p.conversations[conversation.ID] = conversation

	return conversation, nil
}

func (r *conversationRepository) UpdateStatus(_ context.Context, id string, status models.ConversationStatus, aiEnabled bool) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	conversation, ok := r.p.conversations[id]
	if !ok {
		return persistence.ErrConversationNotFound
	}

	conversation.Status = status
	conversation.AIEnabled = aiEnabled

	return nil
}

func (r *conversationRepository) MarkInboundAnswered(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.answeredMarks[id]++

	return nil
}
