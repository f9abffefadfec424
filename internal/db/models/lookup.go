// Package models - lookup.go defines the small lookup-table models (statuses,
// priorities, tags). Statuses and priorities are seeded by migration; tags are
// user-managed.
package models

import "time"

// Status represents an issue workflow state (e.g. "open", "in_progress", "resolved")
type Status struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	SortOrder int       `json:"sort_order" db:"sort_order"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Priority represents an issue priority level (e.g. "low", "normal", "urgent")
type Priority struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Weight    int       `json:"weight" db:"weight"` // higher = more urgent
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Tag represents a free-form label that can be attached to issues
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
