// Package audit handles the audit trail for security-relevant actions:
// issue and comment mutations, account administration, and authorization
// denials. Audit records are intentionally separate from application logs —
// application logs are ephemeral debug output consumed by on-call engineers,
// while audit records are immutable rows consumed by admins and may be
// subject to retention requirements. The Recorder writes records through the
// caller's transaction so a business mutation and its audit entry commit (or
// roll back) together, and optionally fans committed records out to external
// destinations via the Shipper interface.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/safego"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// Audit action names. These are stable strings: dashboards and retention
// tooling match on them, so they change only with a migration of old rows.
const (
	ActionUnauthorizedAccess = "Unauthorized Access Attempt"
	ActionUnauthorizedUpdate = "Unauthorized Update Attempt"

	ActionCreatedIssue   = "Created Issue"
	ActionUpdatedIssue   = "Updated Issue"
	ActionAssignedIssue  = "Assigned Issue"
	ActionDeletedIssue   = "Deleted Issue"
	ActionCreatedComment = "Created Comment"
	ActionUpdatedComment = "Updated Comment Content"
	ActionDeletedComment = "Deleted Comment"

	ActionUserLogin       = "User Login"
	ActionUserRegistered  = "User Registered"
	ActionCreatedUser     = "Created User"
	ActionUpdatedUser     = "Updated User"
	ActionChangedUserRole = "Changed User Role"
	ActionSuspendedUser   = "Suspended User"
	ActionReinstatedUser  = "Reinstated User"
	ActionDeletedUser     = "Deleted User"

	ActionChangedLookup = "Changed Lookup Table"

	// Recorded only when audit.log_reads is enabled
	ActionListedAllIssues = "Listed All Issues"
	ActionViewedAuditLogs = "Viewed Audit Logs"

	ActionServerStarted = "Server Started"
)

// DBTX is the subset of database/sql the recorder writes through. It is
// satisfied by both *sql.DB and *sql.Tx; handlers pass their open transaction
// so the audit row commits atomically with the mutation it describes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Entry describes one auditable event before it is written
type Entry struct {
	Action       string
	Detail       string
	UserID       *string // nil for system actions
	ResourceType string
	ResourceID   string
	Meta         RequestMeta
	Suspicion    int
	SystemAction bool
}

// Recorder writes audit records and fans them out to configured shippers
type Recorder struct {
	shipper Shipper
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. shipper may be nil when no external
// destinations are configured.
func NewRecorder(shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{shipper: shipper, logger: logger}
}

// Record writes an audit row through q. When q is the transaction of a
// business mutation, the mutation and its record become one atomic commit:
// neither is ever visible without the other. The created record is returned
// so the caller can ship it after the transaction commits.
func (r *Recorder) Record(ctx context.Context, q DBTX, e Entry) (*models.AuditLog, error) {
	log := &models.AuditLog{
		ID:             uuid.New().String(),
		Action:         e.Action,
		Detail:         e.Detail,
		UserID:         e.UserID,
		IPAddress:      e.Meta.IP,
		UserAgent:      e.Meta.UserAgent,
		RequestPath:    e.Meta.Path,
		RequestMethod:  e.Meta.Method,
		SuspicionScore: e.Suspicion,
		SystemAction:   e.SystemAction,
		CreatedAt:      time.Now(),
	}
	if e.ResourceType != "" {
		log.ResourceType = &e.ResourceType
	}
	if e.ResourceID != "" {
		log.ResourceID = &e.ResourceID
	}

	query := `
		INSERT INTO audit_logs (id, action, detail, user_id, resource_type, resource_id, ip_address, user_agent, request_path, request_method, suspicion_score, system_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := q.ExecContext(ctx, query,
		log.ID,
		log.Action,
		log.Detail,
		log.UserID,
		log.ResourceType,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		log.RequestPath,
		log.RequestMethod,
		log.SuspicionScore,
		log.SystemAction,
		log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	telemetry.AuditRecordsWrittenTotal.
		WithLabelValues(strconv.FormatBool(e.Suspicion > 0)).Inc()

	return log, nil
}

// ShipAsync forwards a committed record to the configured shippers without
// blocking the request. Shipping failures are logged, never surfaced to the
// client: the database row is the source of truth and it is already durable.
func (r *Recorder) ShipAsync(log *models.AuditLog) {
	if r.shipper == nil || log == nil {
		return
	}

	safego.Go(r.logger, "audit-ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := r.shipper.Ship(ctx, log); err != nil {
			r.logger.Warn("audit shipping failed", "action", log.Action, "error", err)
		}
	})
}

// Close flushes and closes the underlying shippers
func (r *Recorder) Close() error {
	if r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}
