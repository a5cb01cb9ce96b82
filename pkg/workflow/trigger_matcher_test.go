package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
)

func newTestMatcher(t *testing.T, profiles ...*models.Profile) *TriggerMatcher {
	t.Helper()

	p := memory.NewPersistence()
	for _, profile := range profiles {
		require.NoError(t, p.ProfileRepository().Save(context.Background(), profile))
	}

	return NewTriggerMatcher(p.ProfileRepository(), testLogger(), DefaultConfig())
}

func whenNode(cfg models.WhenConfig) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:   "when-1",
		Type: models.NodeTypeWhen,
		When: &cfg,
	}
}

func TestMatches_ReceiveMessageKeywords(t *testing.T) {
	m := newTestMatcher(t)
	node := whenNode(models.WhenConfig{
		WhenType: models.WhenReceiveMessage,
		Keywords: []string{"price", "cost"},
	})

	event := &events.AutomationEvent{Kind: events.KindMessageReceived, Content: "What does the PRICE include?"}

	matched, err := m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)

	event.Content = "hello there"

	matched, err = m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatches_ChannelFilter(t *testing.T) {
	m := newTestMatcher(t)

	node := whenNode(models.WhenConfig{
		WhenType: models.WhenReceiveMessage,
		Channels: []string{"telegram"},
	})
	event := &events.AutomationEvent{Kind: events.KindMessageReceived, Channel: "instagram"}

	matched, err := m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)

	node.When.Channels = []string{models.ChannelAll}

	matched, err = m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatches_TagFilterLoadsProfileLazily(t *testing.T) {
	m := newTestMatcher(t, &models.Profile{ID: "profile-1", Tags: []string{"vip"}})

	node := whenNode(models.WhenConfig{
		WhenType: models.WhenReceiveMessage,
		Tags:     []string{"vip"},
	})
	event := &events.AutomationEvent{Kind: events.KindMessageReceived, ProfileID: "profile-1", Content: "hi"}

	execContext := map[string]any{}

	matched, err := m.Matches(context.Background(), node, event, execContext)
	require.NoError(t, err)
	assert.True(t, matched)

	// Tags are cached for later checks in the same invocation.
	assert.Equal(t, []string{"vip"}, execContext[ContextKeyProfileTags])
}

func TestMatches_AddTagDualPurpose(t *testing.T) {
	m := newTestMatcher(t, &models.Profile{ID: "profile-1", Tags: []string{"lead"}})

	node := whenNode(models.WhenConfig{
		WhenType: models.WhenAddTag,
		Tags:     []string{"lead"},
	})

	tagged := &events.AutomationEvent{Kind: events.KindTagAdded, Tag: "lead"}

	matched, err := m.Matches(context.Background(), node, tagged, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)

	// The same node doubles as an audience filter on inbound messages.
	message := &events.AutomationEvent{Kind: events.KindMessageReceived, ProfileID: "profile-1"}

	matched, err = m.Matches(context.Background(), node, message, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)

	other := &events.AutomationEvent{Kind: events.KindTagAdded, Tag: "other"}

	matched, err = m.Matches(context.Background(), node, other, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatches_NewCustomer(t *testing.T) {
	m := newTestMatcher(t)
	node := whenNode(models.WhenConfig{WhenType: models.WhenNewCustomer})

	matched, err := m.Matches(context.Background(),
		node, &events.AutomationEvent{Kind: events.KindUserCreated}, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = m.Matches(context.Background(),
		node, &events.AutomationEvent{Kind: events.KindMessageReceived}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatches_ScheduledUsesProfileTimezone(t *testing.T) {
	m := newTestMatcher(t, &models.Profile{ID: "profile-1", Timezone: "Asia/Tehran"})

	node := whenNode(models.WhenConfig{
		WhenType: models.WhenScheduled,
		Schedule: &models.Schedule{
			Time:      "09:00",
			StartDate: "2026-01-01",
			Frequency: models.FrequencyDaily,
		},
	})

	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	event := &events.AutomationEvent{
		Kind:      events.KindScheduleTick,
		ProfileID: "profile-1",
	}
	event.Timestamp = time.Date(2026, 3, 10, 9, 0, 30, 0, tehran)

	matched, err := m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.True(t, matched)

	event.Timestamp = time.Date(2026, 3, 10, 9, 2, 0, 0, tehran)

	matched, err = m.Matches(context.Background(), node, event, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatches_NonWhenNodeNeverMatches(t *testing.T) {
	m := newTestMatcher(t)

	node := &models.WorkflowNode{ID: "a-1", Type: models.NodeTypeAction}

	matched, err := m.Matches(context.Background(),
		node, &events.AutomationEvent{Kind: events.KindMessageReceived}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, matched)
}
