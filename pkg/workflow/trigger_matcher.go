package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// ContextKeyProfileTags caches the acting profile's tags in the execution
// context so repeated trigger checks do not reload the profile.
const ContextKeyProfileTags = "profile_tags"

// TriggerMatcher decides whether an inbound event satisfies a when-node's
// filters. Any failing sub-check short-circuits to no match.
type TriggerMatcher struct {
	profiles persistence.ProfileRepository
	logger   *slog.Logger

	defaultTimezone string
	tolerance       time.Duration
}

func NewTriggerMatcher(profiles persistence.ProfileRepository, logger *slog.Logger, cfg Config) *TriggerMatcher {
	cfg = cfg.withDefaults()

	return &TriggerMatcher{
		profiles:        profiles,
		logger:          logger.With("module", "trigger_matcher"),
		defaultTimezone: cfg.DefaultTimezone,
		tolerance:       cfg.ScheduleTolerance,
	}
}

// Matches reports whether the event satisfies the when-node's filters.
func (m *TriggerMatcher) Matches(ctx context.Context, node *models.WorkflowNode, event *events.AutomationEvent, execContext map[string]any) (bool, error) {
	if node == nil || node.Type != models.NodeTypeWhen || node.When == nil {
		return false, nil
	}

	when := node.When

	switch when.WhenType {
	case models.WhenReceiveMessage:
		if event.Kind != events.KindMessageReceived {
			return false, nil
		}

		return m.matchesMessage(ctx, when, event, execContext)
	case models.WhenNewCustomer:
		return event.Kind == events.KindUserCreated, nil
	case models.WhenAddTag:
		if event.Kind == events.KindTagAdded {
			return containsFold(when.Tags, event.Tag), nil
		}
		// Tag-filter nodes double as an audience filter on inbound
		// messages: the acting profile must already carry one of the tags.
		if event.Kind == events.KindMessageReceived && len(when.Tags) > 0 {
			return m.profileHasAnyTag(ctx, event.ProfileID, when.Tags, execContext)
		}

		return false, nil
	case models.WhenScheduled:
		if event.Kind != events.KindScheduleTick {
			return false, nil
		}

		return m.matchesSchedule(ctx, when, event)
	default:
		return false, nil
	}
}

func (m *TriggerMatcher) matchesMessage(ctx context.Context, when *models.WhenConfig, event *events.AutomationEvent, execContext map[string]any) (bool, error) {
	if len(when.Keywords) > 0 {
		content := strings.ToLower(event.Content)

		found := false
		for _, keyword := range when.Keywords {
			if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
				found = true

				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if len(when.Channels) > 0 && !containsFold(when.Channels, models.ChannelAll) {
		if !containsFold(when.Channels, event.Channel) {
			return false, nil
		}
	}

	if len(when.Tags) > 0 {
		return m.profileHasAnyTag(ctx, event.ProfileID, when.Tags, execContext)
	}

	return true, nil
}

func (m *TriggerMatcher) matchesSchedule(ctx context.Context, when *models.WhenConfig, event *events.AutomationEvent) (bool, error) {
	if when.Schedule == nil {
		return false, nil
	}

	loc, err := time.LoadLocation(m.resolveTimezone(ctx, when, event))
	if err != nil {
		return false, err
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	return when.Schedule.MatchesAt(at.In(loc), m.tolerance)
}

// resolveTimezone picks the schedule's effective timezone: the acting
// profile's own, then the schedule's, then the engine default.
func (m *TriggerMatcher) resolveTimezone(ctx context.Context, when *models.WhenConfig, event *events.AutomationEvent) string {
	if event.ProfileID != "" {
		profile, err := m.profiles.ByID(ctx, event.ProfileID)
		if err == nil && profile.Timezone != "" {
			return profile.Timezone
		}
	}

	if when.Schedule.Timezone != "" {
		return when.Schedule.Timezone
	}

	return m.defaultTimezone
}

// profileHasAnyTag checks the tag filter against the profile's tags, loading
// them lazily when they are not already cached in the execution context.
func (m *TriggerMatcher) profileHasAnyTag(ctx context.Context, profileID string, wanted []string, execContext map[string]any) (bool, error) {
	tags, ok := tagsFromContext(execContext)
	if !ok {
		if profileID == "" {
			return false, nil
		}

		profile, err := m.profiles.ByID(ctx, profileID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return false, nil
			}

			return false, err
		}

		tags = profile.Tags
		if execContext != nil {
			execContext[ContextKeyProfileTags] = tags
		}
	}

	for _, tag := range tags {
		if containsFold(wanted, tag) {
			return true, nil
		}
	}

	return false, nil
}

func tagsFromContext(execContext map[string]any) ([]string, bool) {
	raw, ok := execContext[ContextKeyProfileTags]
	if !ok {
		return nil, false
	}

	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		tags := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}

		return tags, true
	default:
		return nil, false
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}

	return false
}
