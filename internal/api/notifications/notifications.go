// Package notifications implements the in-app notification endpoints.
// Notifications are strictly personal: every operation is scoped to the
// recipient, and touching another user's notification is audited as a
// foreign-resource attempt.
package notifications

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
	"github.com/tickhole/tickhole/internal/policy"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// Handler handles notification endpoints
type Handler struct {
	cfg           *config.Config
	db            *sql.DB
	notifications *repositories.NotificationRepository
	recorder      *audit.Recorder
}

// NewHandler creates a new notification Handler
func NewHandler(cfg *config.Config, database *sql.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:           cfg,
		db:            database,
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

func (h *Handler) deny(c *gin.Context, actor *models.User, notificationID string, score int) {
	record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
		Action:       audit.ActionUnauthorizedAccess,
		Detail:       "Attempted to access a notification belonging to another user",
		UserID:       &actor.ID,
		ResourceType: "notification",
		ResourceID:   notificationID,
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

// locate loads the notification and checks it belongs to the actor. A nil
// return means a response has already been written.
func (h *Handler) locate(c *gin.Context, actor *models.User, action policy.Action) *models.Notification {
	n, err := h.notifications.GetNotificationByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve notification"})
		return nil
	}
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return nil
	}

	d := policy.Decide(policyActor(actor), action, policy.Resource{Type: "notification", OwnerID: n.UserID})
	if !d.Allowed {
		h.deny(c, actor, n.ID, d.Suspicion)
		return nil
	}
	return n
}

// @Summary      List my notifications
// @Description  List the authenticated user's notifications, newest first. Includes the unread count.
// @Tags         Notifications
// @Security     Bearer
// @Produce      json
// @Param        unread_only  query  bool  false  "Only unread notifications"
// @Success      200  {object}  map[string]interface{}  "notifications: []models.Notification, unread: int, pagination: map"
// @Router       /api/v1/notifications [get]
// ListHandler lists the actor's notifications
// GET /api/v1/notifications
func (h *Handler) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		unreadOnly := c.Query("unread_only") == "true"

		list, total, err := h.notifications.ListNotificationsByUser(c.Request.Context(), actor.ID, unreadOnly, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
			return
		}

		unread, err := h.notifications.CountUnread(c.Request.Context(), actor.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count notifications"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": list,
			"unread":        unread,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// MarkReadHandler marks one notification as read
// POST /api/v1/notifications/:id/read
func (h *Handler) MarkReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		n := h.locate(c, actor, policy.ActionUpdate)
		if n == nil {
			return
		}

		if err := h.notifications.MarkRead(c.Request.Context(), n.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification read"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Notification marked read",
		})
	}
}

// MarkAllReadHandler marks every unread notification of the actor as read
// POST /api/v1/notifications/read-all
func (h *Handler) MarkAllReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		updated, err := h.notifications.MarkAllRead(c.Request.Context(), actor.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications read"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"updated": updated,
		})
	}
}

// DeleteHandler removes a notification. Hard delete: these are transient
// per-user rows with no audit value of their own.
// DELETE /api/v1/notifications/:id
func (h *Handler) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		n := h.locate(c, actor, policy.ActionDelete)
		if n == nil {
			return
		}

		if err := h.notifications.DeleteNotification(c.Request.Context(), n.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete notification"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Notification deleted",
		})
	}
}
