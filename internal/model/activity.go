package model

import "time"

// Activity actions written by the auth flow.
const (
	ActionRegister = "register"
	ActionLogin    = "login"
)

// ActivityLog is a single append-only audit record of a user action.
type ActivityLog struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateActivityRequest represents a client request to append an activity entry.
type CreateActivityRequest struct {
	Action   string         `json:"action" validate:"required,max=64"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListActivityOptions narrows an activity listing. Entries are always
// returned newest first, ordered by (CreatedAt, ID).
//
// Before and BeforeID are the position of the last entry already seen. With
// only Before, entries at exactly that instant are excluded; adding BeforeID
// keeps the ones that sort below it, so ties are never skipped.
type ListActivityOptions struct {
	Limit    int
	Before   *time.Time
	BeforeID string
}

// RequestMeta carries the caller's network identity into audit records.
type RequestMeta struct {
	IP        string
	UserAgent string
}
