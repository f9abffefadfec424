// Package users implements the account management endpoints. Listing,
// searching, and creating accounts are staff surfaces gated at the router;
// single-account operations run through the policy layer so a user can still
// read and edit themselves. Role and suspension changes are management
// actions reserved to admins, with a guard that keeps the last admin
// standing.
package users

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

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

// Handler handles user management endpoints
type Handler struct {
	cfg      *config.Config
	db       *sql.DB
	users    *repositories.UserRepository
	recorder *audit.Recorder
}

// NewHandler creates a new user Handler
func NewHandler(cfg *config.Config, database *sql.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       database,
		users:    repositories.NewUserRepository(database),
		recorder: recorder,
	}
}

func policyActor(u *models.User) policy.Actor {
	return policy.Actor{
		ID:        u.ID,
		Role:      auth.Role(u.Role),
		Suspended: u.Suspended,
	}
}

func (h *Handler) deny(c *gin.Context, actor *models.User, auditAction, detail, resourceID string, score int) {
	record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
		Action:       auditAction,
		Detail:       detail,
		UserID:       &actor.ID,
		ResourceType: "user",
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

// ListHandler lists accounts with optional search; staff only (router-gated)
// GET /api/v1/users
func (h *Handler) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		offset := (page - 1) * perPage

		if q := c.Query("q"); q != "" {
			users, err := h.users.Search(c.Request.Context(), q, perPage, offset)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search users"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"users": users,
				"pagination": gin.H{
					"page":     page,
					"per_page": perPage,
				},
			})
			return
		}

		users, total, err := h.users.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// CreateUserRequest represents an admin-created account
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

// @Summary      Create user
// @Description  Create an account with an explicit role. Admin only.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateUserRequest  true  "User creation request"
// @Success      201  {object}  map[string]interface{}  "user: models.User"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/users [post]
// CreateHandler creates an account; admin only (router-gated)
// POST /api/v1/users
func (h *Handler) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		role := req.Role
		if role == "" {
			role = string(auth.RoleUser)
		}
		if !auth.Role(role).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
			return
		}

		existing, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}

		hash, err := auth.HashPasswordWithCost(req.Password, h.cfg.Auth.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}

		user := &models.User{
			Email:        req.Email,
			Name:         req.Name,
			PasswordHash: hash,
			Role:         role,
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.users.WithTx(tx).CreateUser(c.Request.Context(), user); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionCreatedUser,
				Detail:       "Created " + role + " account " + user.Email,
				UserID:       &actor.ID,
				ResourceType: "user",
				ResourceID:   user.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to create user", "error", err, "email", req.Email)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}
		h.recorder.ShipAsync(record)

		c.JSON(http.StatusCreated, gin.H{
			"user": user,
		})
	}
}

// GetHandler retrieves a single account; self or staff
// GET /api/v1/users/:id
func (h *Handler) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		d := policy.Decide(policyActor(actor), policy.ActionRead, policy.Resource{Type: "user", OwnerID: user.ID})
		if !d.Allowed {
			h.deny(c, actor, audit.ActionUnauthorizedAccess,
				"Attempted to read another user's account",
				user.ID, d.Suspicion)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// UpdateUserRequest represents a partial account update. Name, email, and
// password are profile fields the account itself may change; role and
// suspended are management fields reserved to admins.
type UpdateUserRequest struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	Role      *string `json:"role"`
	Suspended *bool   `json:"suspended"`
}

// UpdateHandler applies a partial update to an account
// PATCH /api/v1/users/:id
func (h *Handler) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		// Role and suspension changes are management actions; profile edits
		// only need update access. Check the stricter gate first so a plain
		// user mixing both into one request is denied with the management
		// score.
		manages := req.Role != nil || req.Suspended != nil
		if manages {
			d := policy.Decide(policyActor(actor), policy.ActionManage, policy.Resource{Type: "user", OwnerID: user.ID})
			if !d.Allowed {
				h.deny(c, actor, audit.ActionUnauthorizedUpdate,
					"Attempted to change role or suspension without admin access",
					user.ID, d.Suspicion)
				return
			}
		} else {
			d := policy.Decide(policyActor(actor), policy.ActionUpdate, policy.Resource{Type: "user", OwnerID: user.ID})
			if !d.Allowed {
				h.deny(c, actor, audit.ActionUnauthorizedUpdate,
					"Attempted to edit another user's account",
					user.ID, d.Suspicion)
				return
			}
		}

		roleChanged := req.Role != nil && *req.Role != user.Role
		if roleChanged && !auth.Role(*req.Role).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
			return
		}

		suspendChanged := req.Suspended != nil && *req.Suspended != user.Suspended

		// Demoting or suspending the last admin would lock everyone out of
		// account management.
		if (roleChanged && user.Role == string(auth.RoleAdmin)) ||
			(suspendChanged && *req.Suspended && user.Role == string(auth.RoleAdmin)) {
			admins, err := h.users.CountAdmins(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count admins"})
				return
			}
			if admins <= 1 {
				c.JSON(http.StatusConflict, gin.H{"error": "Cannot remove the last admin"})
				return
			}
		}

		if req.Name != nil {
			user.Name = *req.Name
		}
		if req.Email != nil {
			user.Email = *req.Email
		}

		var newHash string
		if req.Password != nil {
			if newHash, err = auth.HashPasswordWithCost(*req.Password, h.cfg.Auth.BcryptCost); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
				return
			}
		}

		meta := audit.MetaFromRequest(c.Request)
		records := make([]*models.AuditLog, 0, 3)
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			records = records[:0]
			userRepo := h.users.WithTx(tx)
			if err := userRepo.UpdateUser(c.Request.Context(), user); err != nil {
				return err
			}
			if newHash != "" {
				if err := userRepo.UpdatePasswordHash(c.Request.Context(), user.ID, newHash); err != nil {
					return err
				}
			}

			rec, err := h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionUpdatedUser,
				Detail:       "Updated account " + user.Email,
				UserID:       &actor.ID,
				ResourceType: "user",
				ResourceID:   user.ID,
				Meta:         meta,
			})
			if err != nil {
				return err
			}
			records = append(records, rec)

			if roleChanged {
				if err := userRepo.SetRole(c.Request.Context(), user.ID, *req.Role); err != nil {
					return err
				}
				user.Role = *req.Role
				rec, err := h.recorder.Record(c.Request.Context(), tx, audit.Entry{
					Action:       audit.ActionChangedUserRole,
					Detail:       "Changed role of " + user.Email + " to " + *req.Role,
					UserID:       &actor.ID,
					ResourceType: "user",
					ResourceID:   user.ID,
					Meta:         meta,
				})
				if err != nil {
					return err
				}
				records = append(records, rec)
			}

			if suspendChanged {
				if err := userRepo.SetSuspended(c.Request.Context(), user.ID, *req.Suspended); err != nil {
					return err
				}
				user.Suspended = *req.Suspended
				action := audit.ActionSuspendedUser
				detail := "Suspended account " + user.Email
				if !*req.Suspended {
					action = audit.ActionReinstatedUser
					detail = "Reinstated account " + user.Email
					user.SuspendedAt = nil
				} else {
					now := time.Now()
					user.SuspendedAt = &now
				}
				rec, err := h.recorder.Record(c.Request.Context(), tx, audit.Entry{
					Action:       action,
					Detail:       detail,
					UserID:       &actor.ID,
					ResourceType: "user",
					ResourceID:   user.ID,
					Meta:         meta,
				})
				if err != nil {
					return err
				}
				records = append(records, rec)
			}
			return nil
		})
		if err != nil {
			slog.Error("failed to update user", "error", err, "target", user.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}
		for _, rec := range records {
			h.recorder.ShipAsync(rec)
		}

		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// DeleteHandler removes an account; self or admin. Hard delete: the user's
// issues, comments, and notifications are purged in the same transaction,
// while audit rows reference users without a foreign key and survive.
// DELETE /api/v1/users/:id
func (h *Handler) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		// Deleting someone else's account is management, not a profile edit,
		// so support staff cannot do it either.
		if user.ID != actor.ID {
			d := policy.Decide(policyActor(actor), policy.ActionManage, policy.Resource{Type: "user", OwnerID: user.ID})
			if !d.Allowed {
				h.deny(c, actor, audit.ActionUnauthorizedAccess,
					"Attempted to delete another user's account",
					user.ID, d.Suspicion)
				return
			}
		}

		if user.Role == string(auth.RoleAdmin) {
			admins, err := h.users.CountAdmins(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count admins"})
				return
			}
			if admins <= 1 {
				c.JSON(http.StatusConflict, gin.H{"error": "Cannot remove the last admin"})
				return
			}
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.users.WithTx(tx).DeleteUser(c.Request.Context(), user.ID); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionDeletedUser,
				Detail:       "Deleted account " + user.Email,
				UserID:       &actor.ID,
				ResourceType: "user",
				ResourceID:   user.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("failed to delete user", "error", err, "target", user.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
			return
		}
		h.recorder.ShipAsync(record)

		c.JSON(http.StatusOK, gin.H{
			"message": "User deleted",
		})
	}
}
