// Package workflow implements the node-based workflow execution engine: a
// DAG interpreter that runs per-conversation automations composed of
// trigger, condition, action and waiting nodes, with suspend/resume
// semantics for human input, delays and timeouts.
package workflow

import "time"

// Config carries the engine's tunables. Values that would otherwise live as
// module-level constants are passed in here at construction time.
type Config struct {
	// DefaultTimezone is the fallback when neither the profile nor the
	// schedule carries one.
	DefaultTimezone string
	// ScheduleTolerance is the accepted wall-clock drift when matching
	// scheduled triggers against the minute tick.
	ScheduleTolerance time.Duration
	// LockTTL bounds the per-(execution, node) mutual exclusion lock held
	// while a response or timeout callback is processed.
	LockTTL time.Duration
	// DoneTTL bounds the completion markers that suppress reprocessing of
	// at-least-once callbacks after the lock is released.
	DoneTTL time.Duration
	// AIStateTTL bounds the per-conversation AI control and context records.
	AIStateTTL time.Duration
	// WebhookTimeout bounds a single webhook action call.
	WebhookTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTimezone:   "UTC",
		ScheduleTolerance: 60 * time.Second,
		LockTTL:           30 * time.Second,
		DoneTTL:           24 * time.Hour,
		AIStateTTL:        24 * time.Hour,
		WebhookTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.DefaultTimezone == "" {
		c.DefaultTimezone = def.DefaultTimezone
	}
	if c.ScheduleTolerance == 0 {
		c.ScheduleTolerance = def.ScheduleTolerance
	}
	if c.LockTTL == 0 {
		c.LockTTL = def.LockTTL
	}
	if c.DoneTTL == 0 {
		c.DoneTTL = def.DoneTTL
	}
	if c.AIStateTTL == 0 {
		c.AIStateTTL = def.AIStateTTL
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = def.WebhookTimeout
	}

	return c
}

// AI control flag values stored in the kv store.
const (
	aiEnabled  = "enabled"
	aiDisabled = "disabled"
)

func aiControlKey(conversationID string) string {
	return "ai:control:" + conversationID
}

func aiPromptKey(conversationID string) string {
	return "ai:prompt:" + conversationID
}

func aiContextKey(conversationID string) string {
	return "ai:context:" + conversationID
}

func waitingLockKey(executionID, nodeID string) string {
	return "waiting:lock:" + executionID + ":" + nodeID
}

func waitingDoneKey(executionID, nodeID string) string {
	return "waiting:done:" + executionID + ":" + nodeID
}

func waitingErrorsKey(executionID, nodeID string) string {
	return "waiting:errors:" + executionID + ":" + nodeID
}

func delayDoneKey(executionID, nodeID string) string {
	return "delay:done:" + executionID + ":" + nodeID
}
