package models

import "time"

// Profile is the customer record automation acts on. The waiting node's
// storage types map onto Description, Email and PhoneNumber.
type Profile struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasTag reports whether the profile carries the named tag.
func (p *Profile) HasTag(name string) bool {
	for _, tag := range p.Tags {
		if tag == name {
			return true
		}
	}

	return false
}

// ConversationStatus is the routing state of a conversation.
type ConversationStatus string

const (
	ConversationActive        ConversationStatus = "active"         // AI may auto-reply
	ConversationSupportActive ConversationStatus = "support_active" // Routed to human support
)

// Conversation ties a profile to a channel thread. AIEnabled mirrors the
// per-conversation AI-control flag for collaborators that read the record
// instead of the flag store.
type Conversation struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	ProfileID string             `json:"profile_id"`
	Channel   string             `json:"channel"`
	Status    ConversationStatus `json:"status"`
	AIEnabled bool               `json:"ai_enabled"`
	Timezone  string             `json:"timezone,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
