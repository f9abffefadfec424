// Package lookups implements the lookup-table endpoints: workflow statuses,
// priority levels, tags, and the static role enum. Reads are open to every
// authenticated user so clients can render pickers; writes are staff surfaces
// gated at the router.
package lookups

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
)

// Handler handles lookup-table endpoints
type Handler struct {
	cfg      *config.Config
	db       *sql.DB
	lookups  *repositories.LookupRepository
	tags     *repositories.TagRepository
	recorder *audit.Recorder
}

// NewHandler creates a new lookup Handler
func NewHandler(cfg *config.Config, database *sql.DB, sqlxDB *sqlx.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       database,
		lookups:  repositories.NewLookupRepository(sqlxDB),
		tags:     repositories.NewTagRepository(database),
		recorder: recorder,
	}
}

// recordChange writes an audit row for a lookup-table change. Lookup writes
// are single-statement config changes, so the record is written after the
// mutation rather than in a shared transaction; a failed record is logged
// and the change stands.
func (h *Handler) recordChange(c *gin.Context, detail, resourceType, resourceID string) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		return
	}
	record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
		Action:       audit.ActionChangedLookup,
		Detail:       detail,
		UserID:       &actor.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Meta:         audit.MetaFromRequest(c.Request),
	})
	if err != nil {
		slog.Error("failed to record lookup change", "error", err, "detail", detail)
		return
	}
	h.recorder.ShipAsync(record)
}

// isForeignKeyViolation reports whether err is a Postgres FK violation, which
// for lookup deletes means an issue still references the row.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// ---------------------------------------------------------------------------
// Statuses
// ---------------------------------------------------------------------------

// ListStatusesHandler lists workflow statuses in board order
// GET /api/v1/statuses
func (h *Handler) ListStatusesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := h.lookups.ListStatuses(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list statuses"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"statuses": statuses})
	}
}

// StatusRequest represents a status create or update
type StatusRequest struct {
	Name      string `json:"name" binding:"required"`
	SortOrder int    `json:"sort_order"`
}

// CreateStatusHandler adds a workflow status; staff only (router-gated)
// POST /api/v1/statuses
func (h *Handler) CreateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		status := &models.Status{Name: req.Name, SortOrder: req.SortOrder}
		if err := h.lookups.CreateStatus(c.Request.Context(), status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create status"})
			return
		}
		h.recordChange(c, "Added status "+status.Name, "status", status.ID)

		c.JSON(http.StatusCreated, gin.H{"status": status})
	}
}

// UpdateStatusHandler renames or reorders a status; staff only (router-gated)
// PATCH /api/v1/statuses/:id
func (h *Handler) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		existing, err := h.lookups.GetStatusByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve status"})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Status not found"})
			return
		}

		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		existing.Name = req.Name
		existing.SortOrder = req.SortOrder
		if err := h.lookups.UpdateStatus(c.Request.Context(), existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
			return
		}
		h.recordChange(c, "Updated status "+existing.Name, "status", existing.ID)

		c.JSON(http.StatusOK, gin.H{"status": existing})
	}
}

// DeleteStatusHandler retires a status; staff only (router-gated)
// DELETE /api/v1/statuses/:id
func (h *Handler) DeleteStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		statusID := c.Param("id")
		if err := h.lookups.DeleteStatus(c.Request.Context(), statusID); err != nil {
			if isForeignKeyViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "Status is still in use"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete status"})
			return
		}
		h.recordChange(c, "Deleted status "+statusID, "status", statusID)

		c.JSON(http.StatusOK, gin.H{"message": "Status deleted"})
	}
}

// ---------------------------------------------------------------------------
// Priorities
// ---------------------------------------------------------------------------

// ListPrioritiesHandler lists priority levels by weight
// GET /api/v1/priorities
func (h *Handler) ListPrioritiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		priorities, err := h.lookups.ListPriorities(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list priorities"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"priorities": priorities})
	}
}

// PriorityRequest represents a priority create or update
type PriorityRequest struct {
	Name   string `json:"name" binding:"required"`
	Weight int    `json:"weight"`
}

// CreatePriorityHandler adds a priority level; staff only (router-gated)
// POST /api/v1/priorities
func (h *Handler) CreatePriorityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PriorityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		priority := &models.Priority{Name: req.Name, Weight: req.Weight}
		if err := h.lookups.CreatePriority(c.Request.Context(), priority); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create priority"})
			return
		}
		h.recordChange(c, "Added priority "+priority.Name, "priority", priority.ID)

		c.JSON(http.StatusCreated, gin.H{"priority": priority})
	}
}

// UpdatePriorityHandler renames or reweights a priority; staff only (router-gated)
// PATCH /api/v1/priorities/:id
func (h *Handler) UpdatePriorityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		existing, err := h.lookups.GetPriorityByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve priority"})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Priority not found"})
			return
		}

		var req PriorityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		existing.Name = req.Name
		existing.Weight = req.Weight
		if err := h.lookups.UpdatePriority(c.Request.Context(), existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update priority"})
			return
		}
		h.recordChange(c, "Updated priority "+existing.Name, "priority", existing.ID)

		c.JSON(http.StatusOK, gin.H{"priority": existing})
	}
}

// DeletePriorityHandler retires a priority; staff only (router-gated)
// DELETE /api/v1/priorities/:id
func (h *Handler) DeletePriorityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		priorityID := c.Param("id")
		if err := h.lookups.DeletePriority(c.Request.Context(), priorityID); err != nil {
			if isForeignKeyViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "Priority is still in use"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete priority"})
			return
		}
		h.recordChange(c, "Deleted priority "+priorityID, "priority", priorityID)

		c.JSON(http.StatusOK, gin.H{"message": "Priority deleted"})
	}
}

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

// ListTagsHandler lists all tags alphabetically
// GET /api/v1/tags
func (h *Handler) ListTagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tags, err := h.tags.ListTags(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tags"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tags": tags})
	}
}

// TagRequest represents a tag create or rename
type TagRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateTagHandler adds a tag; staff only (router-gated)
// POST /api/v1/tags
func (h *Handler) CreateTagHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		existing, err := h.tags.GetTagByName(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check tag"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Tag already exists"})
			return
		}

		tag := &models.Tag{Name: req.Name}
		if err := h.tags.CreateTag(c.Request.Context(), tag); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tag"})
			return
		}
		h.recordChange(c, "Added tag "+tag.Name, "tag", tag.ID)

		c.JSON(http.StatusCreated, gin.H{"tag": tag})
	}
}

// UpdateTagHandler renames a tag; staff only (router-gated)
// PATCH /api/v1/tags/:id
func (h *Handler) UpdateTagHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tag, err := h.tags.GetTagByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tag"})
			return
		}
		if tag == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tag not found"})
			return
		}

		var req TagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if err := h.tags.UpdateTag(c.Request.Context(), tag.ID, req.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tag"})
			return
		}
		h.recordChange(c, "Renamed tag "+tag.Name+" to "+req.Name, "tag", tag.ID)

		tag.Name = req.Name
		c.JSON(http.StatusOK, gin.H{"tag": tag})
	}
}

// DeleteTagHandler removes a tag and its issue associations; staff only
// (router-gated)
// DELETE /api/v1/tags/:id
func (h *Handler) DeleteTagHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tagID := c.Param("id")
		if err := h.tags.DeleteTag(c.Request.Context(), tagID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete tag"})
			return
		}
		h.recordChange(c, "Deleted tag "+tagID, "tag", tagID)

		c.JSON(http.StatusOK, gin.H{"message": "Tag deleted"})
	}
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// ListRolesHandler returns the closed role set. There is no roles table; the
// three roles are compiled in.
// GET /api/v1/roles
func (h *Handler) ListRolesHandler() gin.HandlerFunc {
	roles := []string{
		string(auth.RoleAdmin),
		string(auth.RoleSupport),
		string(auth.RoleUser),
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"roles": roles})
	}
}
