// Package models - issue.go defines the Issue model. Deletion is a soft delete:
// the row stays in place with deleted=true so audit history keeps a valid target.
package models

import "time"

// Issue represents a help-desk issue (ticket)
type Issue struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	OwnerID    string     `json:"owner_id"`              // creator; policy owner
	AssigneeID *string    `json:"assignee_id,omitempty"` // support/admin user, set via assignment
	StatusID   string     `json:"status_id"`
	PriorityID string     `json:"priority_id"`
	Deleted    bool       `json:"deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IssueWithTags represents an issue together with its tag names
type IssueWithTags struct {
	Issue
	Tags []string `json:"tags"`
}
