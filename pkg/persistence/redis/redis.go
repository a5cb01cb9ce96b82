// Package redis provides the Redis-backed persistence implementation.
// Records are stored as JSON blobs with sorted-set indexes for the recency
// queries the engine depends on.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// recentExecutionWindow bounds how many executions per conversation the
// waiting-state queries inspect.
const recentExecutionWindow = 50

type Persistence struct {
	client *goredis.Client
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, url string) (*Persistence, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Persistence{client: client}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{p.client}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{p.client}
}

func (p *Persistence) ResponseRepository() persistence.ResponseRepository {
	return &responseRepository{p.client}
}

func (p *Persistence) ProfileRepository() persistence.ProfileRepository {
	return &profileRepository{p.client}
}

func (p *Persistence) ConversationRepository() persistence.ConversationRepository {
	return &conversationRepository{p.client}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func workflowKey(id string) string     { return "cf:wf:" + id }
func workflowOwnerKey(o string) string { return "cf:wf:owner:" + o }
func workflowAllKey() string           { return "cf:wf:all" }
func executionKey(id string) string    { return "cf:exec:" + id }
func executionConvKey(c string) string { return "cf:exec:conv:" + c }
func responseKey(id string) string     { return "cf:resp:" + id }
func validResponseKey(executionID, nodeID string) string {
	return "cf:resp:valid:" + executionID + ":" + nodeID
}
func validConvResponseKey(nodeID, conversationID string) string {
	return "cf:resp:valid:conv:" + nodeID + ":" + conversationID
}
func profileKey(id string) string { return "cf:profile:" + id }
func convKey(id string) string    { return "cf:conv:" + id }
func convByProfileKey(profileID, channel string) string {
	return "cf:conv:profile:" + profileID + ":" + channel
}

func getJSON[T any](ctx context.Context, client *goredis.Client, key string, notFound error) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound
	}

	if err != nil {
		return nil, err
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}

	return &value, nil
}

func setJSON(ctx context.Context, client *goredis.Client, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	return client.Set(ctx, key, payload, 0).Err()
}

type workflowRepository struct{ client *goredis.Client }

func (r *workflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	payload, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, workflowKey(workflow.ID), payload, 0)
	pipe.ZAdd(ctx, workflowAllKey(), goredis.Z{Score: float64(now.Unix()), Member: workflow.ID})
	pipe.ZAdd(ctx, workflowOwnerKey(workflow.OwnerID), goredis.Z{Score: float64(now.Unix()), Member: workflow.ID})
	_, err = pipe.Exec(ctx)

	return err
}

func (r *workflowRepository) ByID(ctx context.Context, id string) (*models.Workflow, error) {
	return getJSON[models.Workflow](ctx, r.client, workflowKey(id), persistence.ErrWorkflowNotFound)
}

func (r *workflowRepository) ActiveByOwner(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	return r.activeFromIndex(ctx, workflowOwnerKey(ownerID))
}

func (r *workflowRepository) Active(ctx context.Context) ([]*models.Workflow, error) {
	return r.activeFromIndex(ctx, workflowAllKey())
}

func (r *workflowRepository) activeFromIndex(ctx context.Context, index string) ([]*models.Workflow, error) {
	ids, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.ByID(ctx, id)
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if workflow.Active {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}

type executionRepository struct{ client *goredis.Client }

func (r *executionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		execution.ID = "exec-" + uuid.New().String()[:8]
	}

	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now

	payload, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, executionKey(execution.ID), payload, 0)
	pipe.ZAdd(ctx, executionConvKey(execution.ConversationID),
		goredis.Z{Score: float64(now.UnixNano()), Member: execution.ID})
	_, err = pipe.Exec(ctx)

	return err
}

func (r *executionRepository) Update(ctx context.Context, execution *models.Execution) error {
	exists, err := r.client.Exists(ctx, executionKey(execution.ID)).Result()
	if err != nil {
		return err
	}

	if exists == 0 {
		return persistence.ErrExecutionNotFound
	}

	execution.UpdatedAt = time.Now().UTC()

	return setJSON(ctx, r.client, executionKey(execution.ID), execution)
}

func (r *executionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	return getJSON[models.Execution](ctx, r.client, executionKey(id), persistence.ErrExecutionNotFound)
}

func (r *executionRepository) Waiting(ctx context.Context, workflowID, conversationID string) (*models.Execution, error) {
	return r.findWaiting(ctx, conversationID, func(execution *models.Execution) bool {
		return execution.WorkflowID == workflowID
	})
}

func (r *executionRepository) LatestWaiting(ctx context.Context, conversationID string) (*models.Execution, error) {
	return r.findWaiting(ctx, conversationID, func(*models.Execution) bool { return true })
}

// findWaiting walks the conversation's executions newest first and returns
// the first waiting one accepted by the filter.
func (r *executionRepository) findWaiting(ctx context.Context, conversationID string, accept func(*models.Execution) bool) (*models.Execution, error) {
	ids, err := r.client.ZRevRange(ctx, executionConvKey(conversationID), 0, recentExecutionWindow-1).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		execution, err := r.ByID(ctx, id)
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if execution.Status == models.ExecutionWaiting && accept(execution) {
			return execution, nil
		}
	}

	return nil, nil
}

type responseRepository struct{ client *goredis.Client }

func (r *responseRepository) Save(ctx context.Context, response *models.UserResponse) error {
	if response.ID == "" {
		response.ID = "resp-" + uuid.New().String()[:8]
	}

	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}

	if err := setJSON(ctx, r.client, responseKey(response.ID), response); err != nil {
		return err
	}

	// Index the exactly-once markers. SetNX keeps the first valid processed
	// response authoritative if a duplicate slips through.
	if response.IsValid && response.ProcessedAt != nil {
		pipe := r.client.TxPipeline()
		pipe.SetNX(ctx, validResponseKey(response.ExecutionID, response.NodeID), response.ID, 0)
		pipe.SetNX(ctx, validConvResponseKey(response.NodeID, response.ConversationID), response.ID, 0)

		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (r *responseRepository) ValidProcessed(ctx context.Context, executionID, nodeID string) (*models.UserResponse, error) {
	return r.byMarker(ctx, validResponseKey(executionID, nodeID))
}

func (r *responseRepository) ValidProcessedForConversation(ctx context.Context, nodeID, conversationID string) (*models.UserResponse, error) {
	return r.byMarker(ctx, validConvResponseKey(nodeID, conversationID))
}

func (r *responseRepository) byMarker(ctx context.Context, marker string) (*models.UserResponse, error) {
	id, err := r.client.Get(ctx, marker).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return getJSON[models.UserResponse](ctx, r.client, responseKey(id), goredis.Nil)
}

type profileRepository struct{ client *goredis.Client }

func (r *profileRepository) Save(ctx context.Context, profile *models.Profile) error {
	return setJSON(ctx, r.client, profileKey(profile.ID), profile)
}

func (r *profileRepository) ByID(ctx context.Context, id string) (*models.Profile, error) {
	return getJSON[models.Profile](ctx, r.client, profileKey(id), persistence.ErrProfileNotFound)
}

type conversationRepository struct{ client *goredis.Client }

func (r *conversationRepository) Save(ctx context.Context, conversation *models.Conversation) error {
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}

	if err := setJSON(ctx, r.client, convKey(conversation.ID), conversation); err != nil {
		return err
	}

	return r.client.Set(ctx, convByProfileKey(conversation.ProfileID, conversation.Channel), conversation.ID, 0).Err()
}

func (r *conversationRepository) ByID(ctx context.Context, id string) (*models.Conversation, error) {
	return getJSON[models.Conversation](ctx, r.client, convKey(id), persistence.ErrConversationNotFound)
}

func (r *conversationRepository) GetOrCreateForProfile(ctx context.Context, profileID, ownerID, channel string) (*models.Conversation, error) {
	id, err := r.client.Get(ctx, convByProfileKey(profileID, channel)).Result()
	if err == nil {
		return r.ByID(ctx, id)
	}

	if !errors.Is(err, goredis.Nil) {
		return nil, err
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

	// SetNX decides the race: whoever indexes first owns the conversation.
	created, err := r.client.SetNX(ctx, convByProfileKey(profileID, channel), conversation.ID, 0).Result()
	if err != nil {
		return nil, err
	}

	if !created {
		winnerID, err := r.client.Get(ctx, convByProfileKey(profileID, channel)).Result()
		if err != nil {
			return nil, err
		}

		return r.ByID(ctx, winnerID)
	}

	if err := setJSON(ctx, r.client, convKey(conversation.ID), conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

func (r *conversationRepository) UpdateStatus(ctx context.Context, id string, status models.ConversationStatus, aiEnabled bool) error {
	conversation, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}

	conversation.Status = status
	conversation.AIEnabled = aiEnabled

	return setJSON(ctx, r.client, convKey(id), conversation)
}

func (r *conversationRepository) MarkInboundAnswered(ctx context.Context, id string) error {
	return r.client.Incr(ctx, "cf:conv:answered:"+id).Err()
}
