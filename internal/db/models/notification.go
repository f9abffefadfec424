package models

import "time"

// Notification represents an in-app notification delivered to a single user,
// e.g. "your issue was assigned" or "a comment was added".
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	IssueID   *string    `json:"issue_id,omitempty"`
	Message   string     `json:"message"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
