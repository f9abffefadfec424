// comment_repository.go implements CommentRepository, providing database
// queries for creating, reading, updating, and soft-deleting issue comments.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
)

// CommentRepository handles comment database operations
type CommentRepository struct {
	db DBTX
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db DBTX) *CommentRepository {
	return &CommentRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *CommentRepository) WithTx(tx *sql.Tx) *CommentRepository {
	return &CommentRepository{db: tx}
}

const commentColumns = `id, issue_id, author_id, body, deleted, deleted_at, created_at, updated_at`

func scanComment(row interface{ Scan(...interface{}) error }) (*models.Comment, error) {
	comment := &models.Comment{}
	err := row.Scan(
		&comment.ID,
		&comment.IssueID,
		&comment.AuthorID,
		&comment.Body,
		&comment.Deleted,
		&comment.DeletedAt,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateComment creates a new comment on an issue
func (r *CommentRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	comment.ID = uuid.New().String()
	comment.CreatedAt = time.Now()
	comment.UpdatedAt = time.Now()

	query := `
		INSERT INTO comments (id, issue_id, author_id, body, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		comment.ID,
		comment.IssueID,
		comment.AuthorID,
		comment.Body,
		comment.Deleted,
		comment.CreatedAt,
		comment.UpdatedAt,
	)

	return err
}

// GetCommentByID retrieves a comment by ID. Soft-deleted comments are not returned.
func (r *CommentRepository) GetCommentByID(ctx context.Context, commentID string) (*models.Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE id = $1 AND NOT deleted
	`

	comment, err := scanComment(r.db.QueryRowContext(ctx, query, commentID))

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return comment, nil
}

// UpdateCommentBody replaces a comment's body text
func (r *CommentRepository) UpdateCommentBody(ctx context.Context, commentID, body string) error {
	query := `
		UPDATE comments
		SET body = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted
	`
	_, err := r.db.ExecContext(ctx, query, commentID, body, time.Now())
	return err
}

// SoftDeleteComment marks a comment as deleted
func (r *CommentRepository) SoftDeleteComment(ctx context.Context, commentID string) error {
	now := time.Now()
	query := `
		UPDATE comments
		SET deleted = TRUE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT deleted
	`
	_, err := r.db.ExecContext(ctx, query, commentID, now)
	return err
}

// ListCommentsByIssue retrieves non-deleted comments for an issue, oldest first
func (r *CommentRepository) ListCommentsByIssue(ctx context.Context, issueID string, limit, offset int) ([]*models.Comment, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM comments WHERE issue_id = $1 AND NOT deleted`
	err := r.db.QueryRowContext(ctx, countQuery, issueID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE issue_id = $1 AND NOT deleted
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, issueID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	comments := make([]*models.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, 0, err
		}
		comments = append(comments, comment)
	}

	return comments, total, rows.Err()
}
