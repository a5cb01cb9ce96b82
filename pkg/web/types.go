// Package web provides the HTTP ingest surface: inbound automation events,
// user responses for waiting nodes, and workflow import.
package web

// IngestEventRequest is the request body for publishing an inbound
// automation event onto the bus.
type IngestEventRequest struct {
	Kind           string         `json:"kind"            validate:"required,oneof=message_received tag_added user_created"`
	OwnerID        string         `json:"owner_id"        validate:"required"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ProfileID      string         `json:"profile_id,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Content        string         `json:"content,omitempty"`
	Tag            string         `json:"tag,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// IngestResponseRequest is the request body for a customer's reply to
// whatever waiting node their conversation is parked on.
type IngestResponseRequest struct {
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id" validate:"required"`
	ProfileID      string `json:"profile_id,omitempty"`
	Text           string `json:"text"            validate:"required"`
}

// AcceptedResponse acknowledges an event handed to the bus.
type AcceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}
