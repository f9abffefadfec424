// tag_repository.go implements TagRepository for the user-managed tag table.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
)

// TagRepository handles tag database operations
type TagRepository struct {
	db DBTX
}

// NewTagRepository creates a new TagRepository
func NewTagRepository(db DBTX) *TagRepository {
	return &TagRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *TagRepository) WithTx(tx *sql.Tx) *TagRepository {
	return &TagRepository{db: tx}
}

// CreateTag creates a new tag
func (r *TagRepository) CreateTag(ctx context.Context, tag *models.Tag) error {
	tag.ID = uuid.New().String()
	tag.CreatedAt = time.Now()

	query := `INSERT INTO tags (id, name, created_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, tag.ID, tag.Name, tag.CreatedAt)
	return err
}

// GetTagByID retrieves a tag by ID
func (r *TagRepository) GetTagByID(ctx context.Context, tagID string) (*models.Tag, error) {
	query := `SELECT id, name, created_at FROM tags WHERE id = $1`

	tag := &models.Tag{}
	err := r.db.QueryRowContext(ctx, query, tagID).Scan(&tag.ID, &tag.Name, &tag.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return tag, nil
}

// GetTagByName retrieves a tag by its unique name
func (r *TagRepository) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	query := `SELECT id, name, created_at FROM tags WHERE name = $1`

	tag := &models.Tag{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&tag.ID, &tag.Name, &tag.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return tag, nil
}

// ListTags retrieves all tags ordered by name
func (r *TagRepository) ListTags(ctx context.Context) ([]*models.Tag, error) {
	query := `SELECT id, name, created_at FROM tags ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]*models.Tag, 0)
	for rows.Next() {
		tag := &models.Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

// UpdateTag renames a tag
func (r *TagRepository) UpdateTag(ctx context.Context, tagID, name string) error {
	query := `UPDATE tags SET name = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, tagID, name)
	return err
}

// DeleteTag deletes a tag and detaches it from all issues
func (r *TagRepository) DeleteTag(ctx context.Context, tagID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM issue_tags WHERE tag_id = $1`, tagID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, tagID)
	return err
}
