package persistence

import "errors"

// Standard persistence error types that all implementations use.
var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrConversationNotFound)
}
