// lookup_repository.go implements LookupRepository for the status and
// priority lookup tables. Uses sqlx column mapping since these rows are small
// and schema-stable. The default rows are seeded by migration; staff can add
// or retire entries at runtime.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tickhole/tickhole/internal/db/models"
)

// LookupRepository handles database operations for the status and priority lookup tables
type LookupRepository struct {
	db *sqlx.DB
}

// NewLookupRepository creates a new LookupRepository
func NewLookupRepository(db *sqlx.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

// ListStatuses retrieves all workflow statuses in display order
func (r *LookupRepository) ListStatuses(ctx context.Context) ([]*models.Status, error) {
	var statuses []*models.Status
	query := `SELECT * FROM statuses ORDER BY sort_order`
	err := r.db.SelectContext(ctx, &statuses, query)
	return statuses, err
}

// GetStatusByID retrieves a status by ID
func (r *LookupRepository) GetStatusByID(ctx context.Context, statusID string) (*models.Status, error) {
	var status models.Status
	query := `SELECT * FROM statuses WHERE id = $1`
	err := r.db.GetContext(ctx, &status, query, statusID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// GetStatusByName retrieves a status by its unique name
func (r *LookupRepository) GetStatusByName(ctx context.Context, name string) (*models.Status, error) {
	var status models.Status
	query := `SELECT * FROM statuses WHERE name = $1`
	err := r.db.GetContext(ctx, &status, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateStatus adds a workflow status
func (r *LookupRepository) CreateStatus(ctx context.Context, status *models.Status) error {
	status.ID = uuid.New().String()
	status.CreatedAt = time.Now()

	query := `INSERT INTO statuses (id, name, sort_order, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, status.ID, status.Name, status.SortOrder, status.CreatedAt)
	return err
}

// UpdateStatus updates a status's name and sort order
func (r *LookupRepository) UpdateStatus(ctx context.Context, status *models.Status) error {
	query := `UPDATE statuses SET name = $2, sort_order = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, status.ID, status.Name, status.SortOrder)
	return err
}

// DeleteStatus removes a status. Fails with a foreign-key error when any
// issue still references it; callers surface that as a conflict.
func (r *LookupRepository) DeleteStatus(ctx context.Context, statusID string) error {
	query := `DELETE FROM statuses WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, statusID)
	return err
}

// ListPriorities retrieves all priority levels ordered by weight
func (r *LookupRepository) ListPriorities(ctx context.Context) ([]*models.Priority, error) {
	var priorities []*models.Priority
	query := `SELECT * FROM priorities ORDER BY weight`
	err := r.db.SelectContext(ctx, &priorities, query)
	return priorities, err
}

// GetPriorityByID retrieves a priority by ID
func (r *LookupRepository) GetPriorityByID(ctx context.Context, priorityID string) (*models.Priority, error) {
	var priority models.Priority
	query := `SELECT * FROM priorities WHERE id = $1`
	err := r.db.GetContext(ctx, &priority, query, priorityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &priority, nil
}

// GetPriorityByName retrieves a priority by its unique name
func (r *LookupRepository) GetPriorityByName(ctx context.Context, name string) (*models.Priority, error) {
	var priority models.Priority
	query := `SELECT * FROM priorities WHERE name = $1`
	err := r.db.GetContext(ctx, &priority, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &priority, nil
}

// CreatePriority adds a priority level
func (r *LookupRepository) CreatePriority(ctx context.Context, priority *models.Priority) error {
	priority.ID = uuid.New().String()
	priority.CreatedAt = time.Now()

	query := `INSERT INTO priorities (id, name, weight, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, priority.ID, priority.Name, priority.Weight, priority.CreatedAt)
	return err
}

// UpdatePriority updates a priority's name and weight
func (r *LookupRepository) UpdatePriority(ctx context.Context, priority *models.Priority) error {
	query := `UPDATE priorities SET name = $2, weight = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, priority.ID, priority.Name, priority.Weight)
	return err
}

// DeletePriority removes a priority level. Fails with a foreign-key error
// when any issue still references it.
func (r *LookupRepository) DeletePriority(ctx context.Context, priorityID string) error {
	query := `DELETE FROM priorities WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, priorityID)
	return err
}
