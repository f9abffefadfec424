// Package models - audit_log.go defines the AuditLog model for recording
// security-relevant actions and authorization denials, capturing actor,
// affected resource, request metadata, and a static suspicion score.
//
// Rows are immutable once written: no update or delete path exists anywhere in
// the codebase, and the read API is the only exposure. Actor and resource
// references are plain UUID columns (not foreign keys) so audit history never
// cascades away when the referenced user or issue is later deleted.
package models

import "time"

// AuditLog represents one audit trail entry
type AuditLog struct {
	ID             string    `json:"id" db:"id"`
	Action         string    `json:"action" db:"action"` // e.g. "Created Issue", "Unauthorized Access Attempt"
	Detail         string    `json:"detail" db:"detail"` // human-readable description
	UserID         *string   `json:"user_id,omitempty" db:"user_id"`             // nil for system actions
	ResourceType   *string   `json:"resource_type,omitempty" db:"resource_type"` // "issue", "comment", "user", ...
	ResourceID     *string   `json:"resource_id,omitempty" db:"resource_id"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	RequestPath    string    `json:"request_path" db:"request_path"`
	RequestMethod  string    `json:"request_method" db:"request_method"`
	SuspicionScore int       `json:"suspicion_score" db:"suspicion_score"` // 0 = normal; >0 only on denials
	SystemAction   bool      `json:"system_action" db:"system_action"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
