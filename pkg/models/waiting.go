package models

// StorageType declares how a waiting node's response is validated and which
// profile field receives the value.
type StorageType string

const (
	StorageText  StorageType = "text"  // Always valid, stored into Profile.Description
	StorageEmail StorageType = "email" // RFC-like validation, stored into Profile.Email
	StoragePhone StorageType = "phone" // Digit validation, stored into Profile.PhoneNumber
)

// WaitingConfig is the payload of a waiting node: ask the customer a
// question, validate the reply, retry up to AllowedErrors times, exit early
// on an exit keyword, and optionally time out.
type WaitingConfig struct {
	CustomerMessage string          `json:"customer_message" validate:"required"`
	StorageType     StorageType     `json:"storage_type"     validate:"required,oneof=text email phone"`
	AllowedErrors   int             `json:"allowed_errors"   validate:"min=1"`
	ExitKeywords    []string        `json:"exit_keywords,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	TimeoutEnabled  bool            `json:"timeout_enabled"`
	Timeout         *DurationConfig `json:"timeout,omitempty"`
}
