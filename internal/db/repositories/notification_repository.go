// notification_repository.go implements NotificationRepository, providing
// database queries for delivering and reading a user's in-app notifications.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tickhole/tickhole/internal/db/models"
)

// NotificationRepository handles notification database operations
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *NotificationRepository) WithTx(tx *sql.Tx) *NotificationRepository {
	return &NotificationRepository{db: tx}
}

const notificationColumns = `id, user_id, issue_id, message, read, read_at, created_at`

// CreateNotification creates a new notification for a user
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()

	query := `
		INSERT INTO notifications (id, user_id, issue_id, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.IssueID,
		n.Message,
		n.Read,
		n.CreatedAt,
	)

	return err
}

// GetNotificationByID retrieves a notification by ID
func (r *NotificationRepository) GetNotificationByID(ctx context.Context, notificationID string) (*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE id = $1
	`

	n := &models.Notification{}
	err := r.db.QueryRowContext(ctx, query, notificationID).Scan(
		&n.ID,
		&n.UserID,
		&n.IssueID,
		&n.Message,
		&n.Read,
		&n.ReadAt,
		&n.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return n, nil
}

// ListNotificationsByUser retrieves a user's notifications, newest first.
// When unreadOnly is set, read notifications are excluded.
func (r *NotificationRepository) ListNotificationsByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error) {
	countQuery := `SELECT COUNT(*) FROM notifications WHERE user_id = $1`
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
	`

	if unreadOnly {
		countQuery += ` AND NOT read`
		query += ` AND NOT read`
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		n := &models.Notification{}
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.IssueID,
			&n.Message,
			&n.Read,
			&n.ReadAt,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}

	return notifications, total, rows.Err()
}

// MarkRead marks a single notification as read
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string) error {
	query := `
		UPDATE notifications
		SET read = TRUE, read_at = $2
		WHERE id = $1 AND NOT read
	`
	_, err := r.db.ExecContext(ctx, query, notificationID, time.Now())
	return err
}

// MarkAllRead marks all of a user's notifications as read and returns the count
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE notifications
		SET read = TRUE, read_at = $2
		WHERE user_id = $1 AND NOT read
	`
	result, err := r.db.ExecContext(ctx, query, userID, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteNotification removes a notification. Notifications are transient
// per-user rows, so this is a hard delete.
func (r *NotificationRepository) DeleteNotification(ctx context.Context, notificationID string) error {
	query := `DELETE FROM notifications WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, notificationID)
	return err
}

// CountUnread returns the number of unread notifications for a user
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	return total, err
}
