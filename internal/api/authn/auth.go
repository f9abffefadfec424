// Package authn implements the registration, login, and session endpoints.
// Tokens are locally issued HS256 JWTs; every other endpoint re-resolves the
// token against the users table, so nothing here is trusted beyond issuance.
package authn

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
)

// Handler handles authentication endpoints
type Handler struct {
	cfg      *config.Config
	db       *sql.DB
	users    *repositories.UserRepository
	recorder *audit.Recorder
}

// NewHandler creates a new authentication Handler
func NewHandler(cfg *config.Config, database *sql.DB, recorder *audit.Recorder) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       database,
		users:    repositories.NewUserRepository(database),
		recorder: recorder,
	}
}

// RegisterRequest represents the self-signup request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// @Summary      Register
// @Description  Create a new user account and return a session token. New accounts always get the "user" role.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Registration request"
// @Success      201  {object}  map[string]interface{}  "token: string, user: models.User"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Registration disabled"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates a new account
// POST /api/v1/auth/register
func (h *Handler) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.cfg.Auth.AllowRegistration {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Registration is disabled",
			})
			return
		}

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		existing, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check existing user",
			})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Email is already registered",
			})
			return
		}

		hash, err := auth.HashPasswordWithCost(req.Password, h.cfg.Auth.BcryptCost)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		user := &models.User{
			Email:        req.Email,
			Name:         req.Name,
			PasswordHash: hash,
			Role:         string(auth.RoleUser),
		}

		meta := audit.MetaFromRequest(c.Request)
		var record *models.AuditLog
		err = db.Transact(c.Request.Context(), h.db, func(tx *sql.Tx) error {
			if err := h.users.WithTx(tx).CreateUser(c.Request.Context(), user); err != nil {
				return err
			}
			record, err = h.recorder.Record(c.Request.Context(), tx, audit.Entry{
				Action:       audit.ActionUserRegistered,
				Detail:       "Registered account " + user.Email,
				UserID:       &user.ID,
				ResourceType: "user",
				ResourceID:   user.ID,
				Meta:         meta,
			})
			return err
		})
		if err != nil {
			slog.Error("registration failed", "error", err, "email", req.Email)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create account",
			})
			return
		}
		h.recorder.ShipAsync(record)

		token, err := auth.GenerateJWT(user.ID, user.Email, user.Name, user.Role, h.cfg.Auth.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to issue token",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"token": token,
			"user":  user,
		})
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Login
// @Description  Exchange email and password for a session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Login request"
// @Success      200  {object}  map[string]interface{}  "token: string, user: models.User"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials or suspended account"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates an existing account
// POST /api/v1/auth/login
func (h *Handler) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up user",
			})
			return
		}

		// Same response for unknown email and wrong password so the endpoint
		// cannot be used to probe which addresses have accounts.
		if user == nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		if user.Suspended {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Account suspended",
			})
			return
		}

		record, err := h.recorder.Record(c.Request.Context(), h.db, audit.Entry{
			Action:       audit.ActionUserLogin,
			Detail:       "Logged in as " + user.Email,
			UserID:       &user.ID,
			ResourceType: "user",
			ResourceID:   user.ID,
			Meta:         audit.MetaFromRequest(c.Request),
		})
		if err != nil {
			// Login proceeds; a lost login record is logged, not fatal
			slog.Error("failed to record login", "error", err, "user_id", user.ID)
		} else {
			h.recorder.ShipAsync(record)
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, user.Name, user.Role, h.cfg.Auth.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to issue token",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user":  user,
		})
	}
}

// MeHandler returns the authenticated account as resolved from the database
// GET /api/v1/auth/me
func (h *Handler) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user": actor,
		})
	}
}

// RefreshHandler issues a fresh token for an already-authenticated account.
// The actor has just been re-resolved by the auth middleware, so a suspended
// or deleted account can never refresh its way past a revocation.
// POST /api/v1/auth/refresh
func (h *Handler) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		token, err := auth.GenerateJWT(actor.ID, actor.Email, actor.Name, actor.Role, h.cfg.Auth.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to issue token",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": token,
		})
	}
}
