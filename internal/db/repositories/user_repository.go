// user_repository.go implements UserRepository, providing database queries for
// creating, reading, and managing help-desk user accounts including role
// changes and suspension.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

const userColumns = `id, email, name, password_hash, role, suspended, suspended_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.Suspended,
		&user.SuspendedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, email, name, password_hash, role, suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.Role,
		user.Suspended,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// UpdateUser updates a user's profile information
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = $2, name = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.UpdatedAt,
	)

	return err
}

// UpdatePasswordHash replaces a user's password hash
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, hash, time.Now())
	return err
}

// SetRole changes a user's role
func (r *UserRepository) SetRole(ctx context.Context, userID, role string) error {
	query := `
		UPDATE users
		SET role = $2, updated_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, role, time.Now())
	return err
}

// SetSuspended suspends or reinstates a user. suspended_at is set when
// suspending and cleared when reinstating.
func (r *UserRepository) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	now := time.Now()

	var suspendedAt *time.Time
	if suspended {
		suspendedAt = &now
	}

	query := `
		UPDATE users
		SET suspended = $2, suspended_at = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, suspended, suspendedAt, now)
	return err
}

// DeleteUser removes an account and purges everything that references it:
// assignments are cleared, the user's notifications and comments go away, and
// owned issues are removed together with their comments, tags, and
// notifications. issues.owner_id and friends are real foreign keys, so the
// user row cannot be deleted while any of those rows remain. Audit rows are
// untouched; they reference users without a foreign key. Run inside the same
// transaction as the audit record via WithTx.
func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	statements := []string{
		`UPDATE issues SET assignee_id = NULL, updated_at = NOW() WHERE assignee_id = $1`,
		`DELETE FROM notifications WHERE user_id = $1`,
		`DELETE FROM notifications WHERE issue_id IN (SELECT id FROM issues WHERE owner_id = $1)`,
		`DELETE FROM comments WHERE author_id = $1`,
		`DELETE FROM comments WHERE issue_id IN (SELECT id FROM issues WHERE owner_id = $1)`,
		`DELETE FROM issue_tags WHERE issue_id IN (SELECT id FROM issues WHERE owner_id = $1)`,
		`DELETE FROM issues WHERE owner_id = $1`,
		`DELETE FROM users WHERE id = $1`,
	}
	for _, query := range statements {
		if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
			return err
		}
	}
	return nil
}

// ListUsers retrieves a paginated list of users
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	// Get total count
	var total int
	countQuery := `SELECT COUNT(*) FROM users`
	err := r.db.QueryRowContext(ctx, countQuery).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// Get paginated users
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, total, rows.Err()
}

// CountAdmins returns the number of admin accounts. Used to refuse demoting or
// suspending the last remaining admin.
func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users WHERE role = 'admin' AND NOT suspended`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

// Search searches for users by email or name
func (r *UserRepository) Search(ctx context.Context, query string, limit, offset int) ([]*models.User, error) {
	searchQuery := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email ILIKE $1 OR name ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	searchPattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, searchQuery, searchPattern, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
