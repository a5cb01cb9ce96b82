package models

// WhenType is the closed set of trigger kinds a when-node can listen for.
type WhenType string

const (
	WhenReceiveMessage WhenType = "receive_message"
	WhenNewCustomer    WhenType = "new_customer"
	WhenAddTag         WhenType = "add_tag"
	WhenScheduled      WhenType = "scheduled"
)

// ChannelAll is the wildcard channel filter accepted by receive_message
// when-nodes.
const ChannelAll = "all"

// WhenConfig is the payload of a when-node. Keywords, Channels and Tags
// filter receive_message events; Schedule drives scheduled triggers.
type WhenConfig struct {
	WhenType WhenType  `json:"when_type" validate:"required,oneof=receive_message new_customer add_tag scheduled"`
	Keywords []string  `json:"keywords,omitempty"`
	Channels []string  `json:"channels,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty"`
}
