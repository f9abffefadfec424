// Package comments implements the comment endpoints. Comments hang off an
// issue: listing and creating them requires read access to the parent issue,
// while editing and deleting are owned by the comment's author.
package comments

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
	"github.com/tickhole/tickhole/internal/policy"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// Handler handles comment endpoints
type Handler struct {
	cfg           *config.Config
	db            *sql.DB
	comments      *repositories.CommentRepository
	issues        *repositories.IssueRepository
	notifications *repositories.NotificationRepository
	recorder      *audit.Recorder
}

// NewHandler creates a new comment Handler
func NewHandler(cfg *config.Config, database *sql.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:           cfg,
		db:            database,
		comments:      repositories.NewCommentRepository(database),
		issues:        repositories.NewIssueRepository(database),
		notifications: repositories.NewNotificationRepository(database),
		recorder:      recorder,
	}
}

func policyActor(u *models.User) policy.Actor {
	return policy.Actor{
		ID:        u.ID,
		Role:      auth.Role(u.Role),
		Suspended: u.Suspended,
	}
}

func (h *Handler) deny(c *gin.Context, actor *models.User, auditAction, detail, resourceType, resourceID string, score int) {
	record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
		Action:       auditAction,
		Detail:       detail,
		UserID:       &actor.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Meta:         audit.MetaFromRequest(c.Request),
		Suspicion:    score,
	})
	if err != nil {
		slog.Error("failed to record denial", "error", err, "user_id", actor.ID, "path", c.Request.URL.Path)
	} else {
		h.recorder.ShipAsync(record)
	}

	telemetry.AuthzDenialsTotal.WithLabelValues(strconv.Itoa(score)).Inc()

	c.JSON(http.StatusUnauthorized, gin.H{
		"error": "Unauthorized",
	})
}

// locateIssue loads the parent issue and checks the actor may read it. A nil
// return means a response has already been written.
func (h *Handler) locateIssue(c *gin.Context, actor *models.User) *models.Issue {
	issue, err := h.issues.GetIssueByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
		return nil
	}
	if issue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		return nil
	}

	d := policy.Decide(policyActor(actor), policy.ActionRead, policy.Resource{Type: "issue", OwnerID: issue.OwnerID})
	if !d.Allowed {
		h.deny(c, actor, audit.ActionUnauthorizedAccess,
			"Attempted to access comments on an issue owned by another user",
			"issue", issue.ID, d.Suspicion)
		return nil
	}
	return issue
}

// ListHandler lists an issue's comments, oldest first
// GET /api/v1/issues/:id/comments
func (h *Handler) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue := h.locateIssue(c, actor)
		if issue == nil {
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}

		comments, total, err := h.comments.ListCommentsByIssue(c.Request.Context(), issue.ID, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list comments"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"comments": comments,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// CreateCommentRequest represents the request to add a comment
type CreateCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

// @Summary      Add comment
// @Description  Add a comment to an issue the caller can read. The issue owner is notified unless they wrote the comment themselves.
// @Tags         Comments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "Issue ID"
// @Param        body  body  CreateCommentRequest  true  "Comment body"
// @Success      201  {object}  map[string]interface{}  "comment: models.Comment"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/issues/{id}/comments [post]
// CreateHandler adds a comment to an issue
// POST /api/v1/issues/:id/comments
func (h *Handler) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue := h.locateIssue(c, actor)
		if issue == nil {
			return
		}

		var req CreateCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		comment := &models.Comment{
			IssueID:  issue.ID,
			AuthorID: actor.ID,
			Body:     req.Body,
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err := db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.comments.WithTx(tx).CreateComment(c.Request.Context(), comment); err != nil {
				return err
			}
			if issue.OwnerID != actor.ID {
				n := &models.Notification{
					UserID:  issue.OwnerID,
					IssueID: &issue.ID,
					Message: "New comment on your issue \"" + issue.Title + "\"",
				}
				if err := h.notifications.WithTx(tx).CreateNotification(c.Request.Context(), n); err != nil {
					return err
				}
			}
			var err error
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionCreatedComment,
				Detail:       "Commented on issue " + issue.Title,
				UserID:       &actor.ID,
				ResourceType: "comment",
				ResourceID:   comment.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to create comment", "error", err, "issue_id", issue.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create comment"})
			return
		}
		h.recorder.ShipAsync(record)
		if issue.OwnerID != actor.ID {
			telemetry.NotificationsSentTotal.Inc()
		}

		c.JSON(http.StatusCreated, gin.H{
			"comment": comment,
		})
	}
}

// UpdateCommentRequest represents a comment body edit
type UpdateCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

// UpdateHandler edits a comment's body; author or staff only
// PATCH /api/v1/comments/:id
func (h *Handler) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		comment, err := h.comments.GetCommentByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve comment"})
			return
		}
		if comment == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionUpdate, policy.Resource{Type: "comment", OwnerID: comment.AuthorID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedUpdate,
				"Attempted to edit a comment written by another user",
				"comment", comment.ID, d.Suspicion)
			return
		}

		var req UpdateCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.comments.WithTx(tx).UpdateCommentBody(c.Request.Context(), comment.ID, req.Body); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionUpdatedComment,
				Detail:       "Edited comment on issue " + comment.IssueID,
				UserID:       &actor.ID,
				ResourceType: "comment",
				ResourceID:   comment.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to update comment", "error", err, "comment_id", comment.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update comment"})
			return
		}
		h.recorder.ShipAsync(record)

		comment.Body = req.Body
		c.JSON(http.StatusOK, gin.H{
			"comment": comment,
		})
	}
}

// DeleteHandler soft-deletes a comment; author or staff only
// DELETE /api/v1/comments/:id
func (h *Handler) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		comment, err := h.comments.GetCommentByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve comment"})
			return
		}
		if comment == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionDelete, policy.Resource{Type: "comment", OwnerID: comment.AuthorID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Attempted to delete a comment written by another user",
				"comment", comment.ID, d.Suspicion)
			return
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.comments.WithTx(tx).SoftDeleteComment(c.Request.Context(), comment.ID); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionDeletedComment,
				Detail:       "Deleted comment on issue " + comment.IssueID,
				UserID:       &actor.ID,
				ResourceType: "comment",
				ResourceID:   comment.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to delete comment", "error", err, "comment_id", comment.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete comment"})
			return
		}
		h.recorder.ShipAsync(record)

		c.JSON(http.StatusOK, gin.H{
			"message": "Comment deleted",
		})
	}
}
