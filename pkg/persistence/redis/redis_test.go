package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}

	t.Cleanup(srv.Close)

	p, err := NewPersistence(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	return p
}

func TestWorkflowSaveAndActive(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.WorkflowRepository()

	active := &models.Workflow{ID: "wf-1", OwnerID: "user-1", Name: "Welcome flow", Active: true}
	inactive := &models.Workflow{ID: "wf-2", OwnerID: "user-1", Name: "Paused flow", Active: false}

	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, inactive))

	got, err := repo.ByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome flow", got.Name)

	_, err = repo.ByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	workflows, err := repo.ActiveByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-1", workflows[0].ID)
}

func TestExecutionWaitingQueries(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	first := &models.Execution{WorkflowID: "wf-1", ConversationID: "conv-1", Status: models.ExecutionWaiting}
	require.NoError(t, repo.Create(ctx, first))

	time.Sleep(2 * time.Millisecond)

	second := &models.Execution{WorkflowID: "wf-2", ConversationID: "conv-1", Status: models.ExecutionWaiting}
	require.NoError(t, repo.Create(ctx, second))

	waiting, err := repo.Waiting(ctx, "wf-1", "conv-1")
	require.NoError(t, err)
	require.NotNil(t, waiting)
	assert.Equal(t, first.ID, waiting.ID)

	latest, err := repo.LatestWaiting(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID, "most recently created waiting execution wins")

	second.Status = models.ExecutionCompleted
	require.NoError(t, repo.Update(ctx, second))

	latest, err = repo.LatestWaiting(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.ID, latest.ID)

	none, err := repo.Waiting(ctx, "wf-9", "conv-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResponseExactlyOnceMarkers(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ResponseRepository()

	now := time.Now().UTC()
	valid := &models.UserResponse{
		ExecutionID:    "exec-1",
		NodeID:         "wait-1",
		ConversationID: "conv-1",
		Text:           "user@example.com",
		IsValid:        true,
		ProcessedAt:    &now,
	}
	require.NoError(t, repo.Save(ctx, valid))

	got, err := repo.ValidProcessed(ctx, "exec-1", "wait-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, valid.ID, got.ID)

	// A later valid response must not displace the first marker.
	later := &models.UserResponse{
		ExecutionID:    "exec-1",
		NodeID:         "wait-1",
		ConversationID: "conv-1",
		Text:           "other@example.com",
		IsValid:        true,
		ProcessedAt:    &now,
	}
	require.NoError(t, repo.Save(ctx, later))

	got, err = repo.ValidProcessedForConversation(ctx, "wait-1", "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, valid.ID, got.ID)

	none, err := repo.ValidProcessed(ctx, "exec-1", "wait-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestConversationGetOrCreateIdempotent(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ConversationRepository()

	first, err := repo.GetOrCreateForProfile(ctx, "profile-1", "user-1", "telegram")
	require.NoError(t, err)

	again, err := repo.GetOrCreateForProfile(ctx, "profile-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.ConversationSupportActive, false))

	got, err := repo.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationSupportActive, got.Status)
	assert.False(t, got.AIEnabled)
}
