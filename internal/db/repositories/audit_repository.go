// audit_repository.go implements AuditRepository, the read side of the audit
// trail: filtered queries across actor, action, resource, suspicion score, and
// time range. Writes do not go through this type — audit records are written
// inside the mutation's transaction by the audit recorder, so the trail has no
// update or delete path at all.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tickhole/tickhole/internal/db/models"
)

// AuditRepository handles audit log read queries
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID       *string
	Action       *string
	ResourceType *string
	ResourceID   *string
	MinSuspicion *int
	StartDate    *time.Time
	EndDate      *time.Time
}

// ListAuditLogs retrieves audit logs with optional filters and pagination,
// newest first
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `SELECT * FROM audit_logs WHERE 1=1`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.UserID != nil {
		countQuery += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if filters.Action != nil {
		countQuery += fmt.Sprintf(` AND action = $%d`, paramIndex)
		query += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}

	if filters.ResourceType != nil {
		countQuery += fmt.Sprintf(` AND resource_type = $%d`, paramIndex)
		query += fmt.Sprintf(` AND resource_type = $%d`, paramIndex)
		args = append(args, *filters.ResourceType)
		paramIndex++
	}

	if filters.ResourceID != nil {
		countQuery += fmt.Sprintf(` AND resource_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND resource_id = $%d`, paramIndex)
		args = append(args, *filters.ResourceID)
		paramIndex++
	}

	if filters.MinSuspicion != nil {
		countQuery += fmt.Sprintf(` AND suspicion_score >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND suspicion_score >= $%d`, paramIndex)
		args = append(args, *filters.MinSuspicion)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	// Get total count
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// Add ordering and pagination
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	var logs []*models.AuditLog
	err = r.db.SelectContext(ctx, &logs, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error) {
	var log models.AuditLog
	query := `SELECT * FROM audit_logs WHERE id = $1`
	err := r.db.GetContext(ctx, &log, query, logID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListAuditLogsForUser retrieves the audit entries recorded against a single
// actor, newest first. Used for the "my activity" view.
func (r *AuditRepository) ListAuditLogsForUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int, error) {
	return r.ListAuditLogs(ctx, AuditFilters{UserID: &userID}, limit, offset)
}
