// issue_repository.go implements IssueRepository, providing database queries
// for creating, reading, updating, assigning, tagging, and soft-deleting
// help-desk issues, with filtered listing across owner, assignee, status,
// priority, and tag.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
)

// IssueRepository handles issue database operations
type IssueRepository struct {
	db DBTX
}

// NewIssueRepository creates a new IssueRepository
func NewIssueRepository(db DBTX) *IssueRepository {
	return &IssueRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *IssueRepository) WithTx(tx *sql.Tx) *IssueRepository {
	return &IssueRepository{db: tx}
}

// IssueFilters contains filters for querying issues
type IssueFilters struct {
	OwnerID    *string
	AssigneeID *string
	StatusID   *string
	PriorityID *string
	TagID      *string
}

const issueColumns = `id, title, body, owner_id, assignee_id, status_id, priority_id, deleted, deleted_at, created_at, updated_at`

func scanIssue(row interface{ Scan(...interface{}) error }) (*models.Issue, error) {
	issue := &models.Issue{}
	err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.Body,
		&issue.OwnerID,
		&issue.AssigneeID,
		&issue.StatusID,
		&issue.PriorityID,
		&issue.Deleted,
		&issue.DeletedAt,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// CreateIssue creates a new issue
func (r *IssueRepository) CreateIssue(ctx context.Context, issue *models.Issue) error {
	issue.ID = uuid.New().String()
	issue.CreatedAt = time.Now()
	issue.UpdatedAt = time.Now()

	query := `
		INSERT INTO issues (id, title, body, owner_id, assignee_id, status_id, priority_id, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		issue.ID,
		issue.Title,
		issue.Body,
		issue.OwnerID,
		issue.AssigneeID,
		issue.StatusID,
		issue.PriorityID,
		issue.Deleted,
		issue.CreatedAt,
		issue.UpdatedAt,
	)

	return err
}

// GetIssueByID retrieves an issue by ID. Soft-deleted issues are not returned.
func (r *IssueRepository) GetIssueByID(ctx context.Context, issueID string) (*models.Issue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM issues
		WHERE id = $1 AND NOT deleted
	`

	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, issueID))

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return issue, nil
}

// UpdateIssue updates an issue's title, body, status, and priority
func (r *IssueRepository) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now()

	query := `
		UPDATE issues
		SET title = $2, body = $3, status_id = $4, priority_id = $5, updated_at = $6
		WHERE id = $1 AND NOT deleted
	`

	_, err := r.db.ExecContext(ctx, query,
		issue.ID,
		issue.Title,
		issue.Body,
		issue.StatusID,
		issue.PriorityID,
		issue.UpdatedAt,
	)

	return err
}

// AssignIssue sets or clears the issue's assignee
func (r *IssueRepository) AssignIssue(ctx context.Context, issueID string, assigneeID *string) error {
	query := `
		UPDATE issues
		SET assignee_id = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted
	`
	_, err := r.db.ExecContext(ctx, query, issueID, assigneeID, time.Now())
	return err
}

// SetStatus changes the issue's workflow status
func (r *IssueRepository) SetStatus(ctx context.Context, issueID, statusID string) error {
	query := `
		UPDATE issues
		SET status_id = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted
	`
	_, err := r.db.ExecContext(ctx, query, issueID, statusID, time.Now())
	return err
}

// SoftDeleteIssue marks an issue as deleted. The row stays in place so audit
// history keeps a valid target.
func (r *IssueRepository) SoftDeleteIssue(ctx context.Context, issueID string) error {
	now := time.Now()
	query := `
		UPDATE issues
		SET deleted = TRUE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT deleted
	`
	_, err := r.db.ExecContext(ctx, query, issueID, now)
	return err
}

// ListIssues retrieves non-deleted issues matching the filters, with pagination
func (r *IssueRepository) ListIssues(ctx context.Context, filters IssueFilters, limit, offset int) ([]*models.Issue, int, error) {
	countQuery := `SELECT COUNT(*) FROM issues WHERE NOT deleted`
	query := `
		SELECT ` + issueColumns + `
		FROM issues
		WHERE NOT deleted
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.OwnerID != nil {
		countQuery += fmt.Sprintf(` AND owner_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND owner_id = $%d`, paramIndex)
		args = append(args, *filters.OwnerID)
		paramIndex++
	}

	if filters.AssigneeID != nil {
		countQuery += fmt.Sprintf(` AND assignee_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND assignee_id = $%d`, paramIndex)
		args = append(args, *filters.AssigneeID)
		paramIndex++
	}

	if filters.StatusID != nil {
		countQuery += fmt.Sprintf(` AND status_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND status_id = $%d`, paramIndex)
		args = append(args, *filters.StatusID)
		paramIndex++
	}

	if filters.PriorityID != nil {
		countQuery += fmt.Sprintf(` AND priority_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND priority_id = $%d`, paramIndex)
		args = append(args, *filters.PriorityID)
		paramIndex++
	}

	if filters.TagID != nil {
		clause := fmt.Sprintf(` AND id IN (SELECT issue_id FROM issue_tags WHERE tag_id = $%d)`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.TagID)
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

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	issues := make([]*models.Issue, 0)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		issues = append(issues, issue)
	}

	return issues, total, rows.Err()
}

// GetIssueTags returns the tag names attached to an issue
func (r *IssueRepository) GetIssueTags(ctx context.Context, issueID string) ([]string, error) {
	query := `
		SELECT t.name
		FROM issue_tags it
		JOIN tags t ON it.tag_id = t.id
		WHERE it.issue_id = $1
		ORDER BY t.name
	`

	rows, err := r.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// SetIssueTags replaces the issue's tag set with the given tag IDs
func (r *IssueRepository) SetIssueTags(ctx context.Context, issueID string, tagIDs []string) error {
	deleteQuery := `DELETE FROM issue_tags WHERE issue_id = $1`
	if _, err := r.db.ExecContext(ctx, deleteQuery, issueID); err != nil {
		return err
	}

	insertQuery := `INSERT INTO issue_tags (issue_id, tag_id) VALUES ($1, $2)`
	for _, tagID := range tagIDs {
		if _, err := r.db.ExecContext(ctx, insertQuery, issueID, tagID); err != nil {
			return err
		}
	}

	return nil
}
