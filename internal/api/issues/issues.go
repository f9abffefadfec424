// Package issues implements the issue (ticket) endpoints. Every handler
// follows the same shape: resolve the actor, locate the resource, ask the
// policy package for a decision, and either record the denial and reject or
// perform the mutation and its audit record in one transaction.
package issues

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
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

// Handler handles issue endpoints
type Handler struct {
	cfg           *config.Config
	db            *sql.DB
	issues        *repositories.IssueRepository
	users         *repositories.UserRepository
	tags          *repositories.TagRepository
	notifications *repositories.NotificationRepository
	lookups       *repositories.LookupRepository
	recorder      *audit.Recorder
}

// NewHandler creates a new issue Handler
func NewHandler(cfg *config.Config, database *sql.DB, sqlxDB *sqlx.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:           cfg,
		db:            database,
		issues:        repositories.NewIssueRepository(database),
		users:         repositories.NewUserRepository(database),
		tags:          repositories.NewTagRepository(database),
		notifications: repositories.NewNotificationRepository(database),
		lookups:       repositories.NewLookupRepository(sqlxDB),
		recorder:      recorder,
	}
}

// policyActor converts the resolved user into its policy form
func policyActor(u *models.User) policy.Actor {
	return policy.Actor{
		ID:        u.ID,
		Role:      auth.Role(u.Role),
		Suspended: u.Suspended,
	}
}

// deny records the denial in the audit trail, bumps the denial counter, and
// rejects the request. The record is written before the response so a denial
// is never visible to the client without its audit row.
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

// parsePagination reads page/per_page query parameters with the usual clamping
func parsePagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}

// @Summary      List my issues
// @Description  List issues owned by the authenticated user, newest first.
// @Tags         Issues
// @Security     Bearer
// @Produce      json
// @Param        page       query  int     false  "Page number (default 1)"
// @Param        per_page   query  int     false  "Items per page, max 100 (default 20)"
// @Param        status_id  query  string  false  "Filter by status"
// @Success      200  {object}  map[string]interface{}  "issues: []models.Issue, pagination: map"
// @Router       /api/v1/issues [get]
// ListMineHandler lists the actor's own issues
// GET /api/v1/issues
func (h *Handler) ListMineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		page, perPage, offset := parsePagination(c)
		filters := filtersFromQuery(c)
		filters.OwnerID = &actor.ID

		issues, total, err := h.issues.ListIssues(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list issues"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"issues": issues,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// filtersFromQuery builds issue filters from the optional query parameters
func filtersFromQuery(c *gin.Context) repositories.IssueFilters {
	var filters repositories.IssueFilters
	if v := c.Query("status_id"); v != "" {
		filters.StatusID = &v
	}
	if v := c.Query("priority_id"); v != "" {
		filters.PriorityID = &v
	}
	if v := c.Query("tag_id"); v != "" {
		filters.TagID = &v
	}
	return filters
}

// @Summary      List all issues
// @Description  List every issue in the system with optional filters. Staff only; a non-staff attempt is audited as suspicious.
// @Tags         Issues
// @Security     Bearer
// @Produce      json
// @Param        owner_id     query  string  false  "Filter by owner"
// @Param        assignee_id  query  string  false  "Filter by assignee"
// @Success      200  {object}  map[string]interface{}  "issues: []models.Issue, pagination: map"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/issues/all [get]
// ListAllHandler lists every issue; staff only
// GET /api/v1/issues/all
func (h *Handler) ListAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionListAll, policy.Resource{Type: "issue"})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Role "+actor.Role+" attempted to list all issues",
				"endpoint", c.FullPath(), d.Suspicion)
			return
		}

		page, perPage, offset := parsePagination(c)
		filters := filtersFromQuery(c)
		if v := c.Query("owner_id"); v != "" {
			filters.OwnerID = &v
		}
		if v := c.Query("assignee_id"); v != "" {
			filters.AssigneeID = &v
		}

		issues, total, err := h.issues.ListIssues(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list issues"})
			return
		}

		if h.cfg.Audit.LogReads {
			record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
				Action:       audit.ActionListedAllIssues,
				Detail:       "Listed all issues",
				UserID:       &actor.ID,
				ResourceType: "endpoint",
				ResourceID:   c.FullPath(),
				Meta:         audit.MetaFromRequest(c.Request),
			})
			if err != nil {
				slog.Error("failed to record bulk read", "error", err, "user_id", actor.ID)
			} else {
				h.recorder.ShipAsync(record)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"issues": issues,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// CreateIssueRequest represents the request to open a new issue
type CreateIssueRequest struct {
	Title      string   `json:"title" binding:"required"`
	Body       string   `json:"body" binding:"required"`
	PriorityID string   `json:"priority_id"`
	TagIDs     []string `json:"tag_ids"`
}

// @Summary      Create issue
// @Description  Open a new issue owned by the authenticated user. New issues start in the "open" status with "normal" priority unless a priority is given.
// @Tags         Issues
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateIssueRequest  true  "Issue creation request"
// @Success      201  {object}  map[string]interface{}  "issue: models.Issue"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/issues [post]
// CreateHandler opens a new issue
// POST /api/v1/issues
func (h *Handler) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req CreateIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		status, err := h.lookups.GetStatusByName(c.Request.Context(), "open")
		if err != nil || status == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve default status"})
			return
		}

		priorityID := req.PriorityID
		if priorityID == "" {
			priority, err := h.lookups.GetPriorityByName(c.Request.Context(), "normal")
			if err != nil || priority == nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve default priority"})
				return
			}
			priorityID = priority.ID
		} else {
			priority, err := h.lookups.GetPriorityByID(c.Request.Context(), priorityID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve priority"})
				return
			}
			if priority == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown priority"})
				return
			}
		}

		for _, tagID := range req.TagIDs {
			tag, err := h.tags.GetTagByID(c.Request.Context(), tagID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve tag"})
				return
			}
			if tag == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tag: " + tagID})
				return
			}
		}

		issue := &models.Issue{
			Title:      req.Title,
			Body:       req.Body,
			OwnerID:    actor.ID,
			StatusID:   status.ID,
			PriorityID: priorityID,
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			issueRepo := h.issues.WithTx(tx)
			if err := issueRepo.CreateIssue(c.Request.Context(), issue); err != nil {
				return err
			}
			if len(req.TagIDs) > 0 {
				if err := issueRepo.SetIssueTags(c.Request.Context(), issue.ID, req.TagIDs); err != nil {
					return err
				}
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionCreatedIssue,
				Detail:       "Created issue " + issue.Title,
				UserID:       &actor.ID,
				ResourceType: "issue",
				ResourceID:   issue.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to create issue", "error", err, "user_id", actor.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create issue"})
			return
		}
		h.recorder.ShipAsync(record)
		telemetry.IssuesCreatedTotal.Inc()

		c.JSON(http.StatusCreated, gin.H{
			"issue": issue,
		})
	}
}

// GetHandler retrieves a single issue with its tags
// GET /api/v1/issues/:id
func (h *Handler) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue, err := h.issues.GetIssueByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
			return
		}
		if issue == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionRead, policy.Resource{Type: "issue", OwnerID: issue.OwnerID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Attempted to read issue owned by another user",
				"issue", issue.ID, d.Suspicion)
			return
		}

		tags, err := h.issues.GetIssueTags(c.Request.Context(), issue.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue tags"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"issue": issue,
			"tags":  tags,
		})
	}
}

// UpdateIssueRequest represents a partial issue update
type UpdateIssueRequest struct {
	Title      *string   `json:"title"`
	Body       *string   `json:"body"`
	StatusID   *string   `json:"status_id"`
	PriorityID *string   `json:"priority_id"`
	TagIDs     *[]string `json:"tag_ids"`
}

// UpdateHandler applies a partial update to an issue
// PATCH /api/v1/issues/:id
func (h *Handler) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue, err := h.issues.GetIssueByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
			return
		}
		if issue == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionUpdate, policy.Resource{Type: "issue", OwnerID: issue.OwnerID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedUpdate,
				"Attempted to update issue owned by another user",
				"issue", issue.ID, d.Suspicion)
			return
		}

		var req UpdateIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if req.Title != nil {
			issue.Title = *req.Title
		}
		if req.Body != nil {
			issue.Body = *req.Body
		}

		resolved := false
		if req.StatusID != nil && *req.StatusID != issue.StatusID {
			status, err := h.lookups.GetStatusByID(c.Request.Context(), *req.StatusID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve status"})
				return
			}
			if status == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
				return
			}
			resolved = status.Name == "resolved"
			issue.StatusID = status.ID
		}
		if req.PriorityID != nil {
			priority, err := h.lookups.GetPriorityByID(c.Request.Context(), *req.PriorityID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve priority"})
				return
			}
			if priority == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown priority"})
				return
			}
			issue.PriorityID = priority.ID
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			issueRepo := h.issues.WithTx(tx)
			if err := issueRepo.UpdateIssue(c.Request.Context(), issue); err != nil {
				return err
			}
			if req.TagIDs != nil {
				if err := issueRepo.SetIssueTags(c.Request.Context(), issue.ID, *req.TagIDs); err != nil {
					return err
				}
			}
			// Owner gets an in-app notification when staff touch their issue
			if issue.OwnerID != actor.ID {
				n := &models.Notification{
					UserID:  issue.OwnerID,
					IssueID: &issue.ID,
					Message: "Your issue \"" + issue.Title + "\" was updated",
				}
				if err := h.notifications.WithTx(tx).CreateNotification(c.Request.Context(), n); err != nil {
					return err
				}
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionUpdatedIssue,
				Detail:       "Updated issue " + issue.Title,
				UserID:       &actor.ID,
				ResourceType: "issue",
				ResourceID:   issue.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to update issue", "error", err, "issue_id", issue.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update issue"})
			return
		}
		h.recorder.ShipAsync(record)
		if issue.OwnerID != actor.ID {
			telemetry.NotificationsSentTotal.Inc()
		}
		if resolved {
			telemetry.IssuesResolvedTotal.Inc()
		}

		c.JSON(http.StatusOK, gin.H{
			"issue": issue,
		})
	}
}

// DeleteHandler soft-deletes an issue. The row stays in place so the audit
// trail keeps a valid target; reads exclude it from then on.
// DELETE /api/v1/issues/:id
func (h *Handler) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue, err := h.issues.GetIssueByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
			return
		}
		if issue == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionDelete, policy.Resource{Type: "issue", OwnerID: issue.OwnerID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Attempted to delete issue owned by another user",
				"issue", issue.ID, d.Suspicion)
			return
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.issues.WithTx(tx).SoftDeleteIssue(c.Request.Context(), issue.ID); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionDeletedIssue,
				Detail:       "Deleted issue " + issue.Title,
				UserID:       &actor.ID,
				ResourceType: "issue",
				ResourceID:   issue.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to delete issue", "error", err, "issue_id", issue.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete issue"})
			return
		}
		h.recorder.ShipAsync(record)

		c.JSON(http.StatusOK, gin.H{
			"message": "Issue deleted",
		})
	}
}

// AssignRequest represents an assignment change. A null assignee_id clears
// the assignment.
type AssignRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

// AssignHandler sets or clears an issue's assignee; staff only
// POST /api/v1/issues/:id/assign
func (h *Handler) AssignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		issue, err := h.issues.GetIssueByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
			return
		}
		if issue == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionAssign, policy.Resource{Type: "issue", OwnerID: issue.OwnerID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Role "+actor.Role+" attempted to assign an issue",
				"issue", issue.ID, d.Suspicion)
			return
		}

		var req AssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		detail := "Cleared assignee on issue " + issue.Title
		if req.AssigneeID != nil {
			assignee, err := h.users.GetUserByID(c.Request.Context(), *req.AssigneeID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve assignee"})
				return
			}
			if assignee == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown assignee"})
				return
			}
			detail = "Assigned issue " + issue.Title + " to " + assignee.Email
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.issues.WithTx(tx).AssignIssue(c.Request.Context(), issue.ID, req.AssigneeID); err != nil {
				return err
			}
			if req.AssigneeID != nil {
				n := &models.Notification{
					UserID:  *req.AssigneeID,
					IssueID: &issue.ID,
					Message: "You were assigned issue \"" + issue.Title + "\"",
				}
				if err := h.notifications.WithTx(tx).CreateNotification(c.Request.Context(), n); err != nil {
					return err
				}
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionAssignedIssue,
				Detail:       detail,
				UserID:       &actor.ID,
				ResourceType: "issue",
				ResourceID:   issue.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to assign issue", "error", err, "issue_id", issue.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign issue"})
			return
		}
		h.recorder.ShipAsync(record)
		if req.AssigneeID != nil {
			telemetry.NotificationsSentTotal.Inc()
		}

		issue.AssigneeID = req.AssigneeID
		c.JSON(http.StatusOK, gin.H{
			"issue": issue,
		})
	}
}
