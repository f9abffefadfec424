// Package auditlogs implements the read-only audit trail endpoints. The whole
// group is admin-gated at the router; there is no write surface, audit rows
// are only ever created by the recorder.
package auditlogs

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
)

// Handler handles audit trail endpoints
type Handler struct {
	cfg      *config.Config
	db       *sql.DB
	logs     *repositories.AuditRepository
	recorder *audit.Recorder
}

// NewHandler creates a new audit trail Handler
func NewHandler(cfg *config.Config, database *sql.DB, sqlxDB *sqlx.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       database,
		logs:     repositories.NewAuditRepository(sqlxDB),
		recorder: recorder,
	}
}

// filtersFromQuery parses the optional audit filters. Dates are RFC 3339; a
// malformed value is reported, not silently dropped.
func filtersFromQuery(c *gin.Context) (repositories.AuditFilters, bool) {
	var filters repositories.AuditFilters

	if v := c.Query("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("resource_id"); v != "" {
		filters.ResourceID = &v
	}
	if v := c.Query("min_suspicion"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_suspicion must be an integer"})
			return filters, false
		}
		filters.MinSuspicion = &n
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be RFC 3339"})
			return filters, false
		}
		filters.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be RFC 3339"})
			return filters, false
		}
		filters.EndDate = &t
	}
	return filters, true
}

// @Summary      List audit logs
// @Description  List audit records, newest first, with optional filters. Admin only.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id        query  string  false  "Filter by acting user"
// @Param        action         query  string  false  "Filter by action name"
// @Param        min_suspicion  query  int     false  "Minimum suspicion score"
// @Param        start_date     query  string  false  "RFC 3339 lower bound"
// @Param        end_date       query  string  false  "RFC 3339 upper bound"
// @Success      200  {object}  map[string]interface{}  "audit_logs: []models.AuditLog, pagination: map"
// @Router       /api/v1/audit-logs [get]
// ListHandler lists audit records; admin only (router-gated)
// GET /api/v1/audit-logs
func (h *Handler) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, ok := filtersFromQuery(c)
		if !ok {
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

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		h.recordView(c, "Listed audit logs")

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetHandler retrieves a single audit record; admin only (router-gated)
// GET /api/v1/audit-logs/:id
func (h *Handler) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		log, err := h.logs.GetAuditLog(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit log"})
			return
		}
		if log == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit log not found"})
			return
		}

		h.recordView(c, "Viewed audit log "+log.ID)

		c.JSON(http.StatusOK, gin.H{
			"audit_log": log,
		})
	}
}

// ListForUserHandler lists one user's audit history; admin only (router-gated)
// GET /api/v1/users/:id/audit-logs
func (h *Handler) ListForUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}

		logs, total, err := h.logs.ListAuditLogsForUser(c.Request.Context(), c.Param("id"), perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		h.recordView(c, "Listed audit logs for user "+c.Param("id"))

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// recordView writes a read-access record when audit.log_reads is enabled.
// Reads never fail because the trail write failed.
func (h *Handler) recordView(c *gin.Context, detail string) {
	if !h.cfg.Audit.LogReads {
		return
	}
	actor, ok := middleware.GetActor(c)
	if !ok {
		return
	}

	record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
		Action:       audit.ActionViewedAuditLogs,
		Detail:       detail,
		UserID:       &actor.ID,
		ResourceType: "endpoint",
		ResourceID:   c.FullPath(),
		Meta:         audit.MetaFromRequest(c.Request),
	})
	if err != nil {
		slog.Error("failed to record audit view", "error", err, "user_id", actor.ID)
		return
	}
	h.recorder.ShipAsync(record)
}
