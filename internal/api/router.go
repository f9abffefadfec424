// Package api wires together all HTTP routes for the tickhole backend.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are public: probes and load balancers
//     must reach them without credentials.
//   - /api/v1/auth/register and /api/v1/auth/login are public but sit behind
//     a strict rate limiter, since both accept credentials.
//   - Everything else requires a valid token. The auth middleware re-reads
//     the user row on every request, so role changes and suspensions take
//     effect immediately, not at the next login.
//   - Staff surfaces (list-all, account management, lookup writes, the audit
//     trail) add a RequireRole gate on top; a failed gate is itself an
//     audited event.
package api

import (
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/tickhole/tickhole/internal/api/auditlogs"
	"github.com/tickhole/tickhole/internal/api/authn"
	"github.com/tickhole/tickhole/internal/api/comments"
	"github.com/tickhole/tickhole/internal/api/issues"
	"github.com/tickhole/tickhole/internal/api/lookups"
	"github.com/tickhole/tickhole/internal/api/notifications"
	"github.com/tickhole/tickhole/internal/api/users"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db/repositories"
	"github.com/tickhole/tickhole/internal/middleware"
)

// Version is the reported service version. Overridden at build time via
// -ldflags "-X github.com/tickhole/tickhole/internal/api.Version=...".
var Version = "0.1.0"

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// when the process receives a termination signal.
type BackgroundServices struct {
	recorder     *audit.Recorder
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops the rate limiter cleanup goroutines and flushes the audit
// shippers. It should be called after the HTTP server has been shut down so
// that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Wrap *sql.DB with sqlx for the read-heavy repositories
	sqlxDB := sqlx.NewDb(db, "postgres")

	userRepo := repositories.NewUserRepository(db)
	resolver := auth.NewResolver(userRepo)

	// Audit recorder, with external shippers when configured
	var shipper audit.Shipper
	if configs := cfg.Audit.ToShipperConfigs(); len(configs) > 0 {
		ms, err := audit.NewMultiShipper(configs, slog.Default())
		if err != nil {
			log.Fatalf("Failed to initialize audit shippers: %v", err)
		}
		shipper = ms
	}
	recorder := audit.NewRecorder(shipper, slog.Default())

	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalConfig := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.Enabled {
		generalConfig.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		generalConfig.BurstSize = cfg.Security.RateLimiting.Burst
	}
	generalRateLimiter := middleware.NewRateLimiter(generalConfig)

	bg := &BackgroundServices{
		recorder:     recorder,
		rateLimiters: []*middleware.RateLimiter{authRateLimiter, generalRateLimiter},
	}

	authHandlers := authn.NewHandler(cfg, db, recorder)
	issueHandlers := issues.NewHandler(cfg, db, sqlxDB, recorder)
	commentHandlers := comments.NewHandler(cfg, db, recorder)
	notificationHandlers := notifications.NewHandler(cfg, db, recorder)
	userHandlers := users.NewHandler(cfg, db, recorder)
	lookupHandlers := lookups.NewHandler(cfg, db, sqlxDB, recorder)
	auditHandlers := auditlogs.NewHandler(cfg, db, sqlxDB, recorder)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no auth required, but strictly
		// rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(authRateLimiter))
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// Authenticated endpoints
		authenticated := apiV1.Group("")
		authenticated.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		authenticated.Use(middleware.AuthMiddleware(resolver))
		{
			authenticated.GET("/auth/me", authHandlers.MeHandler())
			authenticated.POST("/auth/refresh", authHandlers.RefreshHandler())

			// Issues
			authenticated.GET("/issues", issueHandlers.ListMineHandler())
			authenticated.POST("/issues", issueHandlers.CreateHandler())
			authenticated.GET("/issues/all",
				middleware.RequireRole(recorder, db, auth.RoleAdmin, auth.RoleSupport),
				issueHandlers.ListAllHandler())
			authenticated.GET("/issues/:id", issueHandlers.GetHandler())
			authenticated.PATCH("/issues/:id", issueHandlers.UpdateHandler())
			authenticated.DELETE("/issues/:id", issueHandlers.DeleteHandler())
			authenticated.POST("/issues/:id/assign",
				middleware.RequireRole(recorder, db, auth.RoleAdmin, auth.RoleSupport),
				issueHandlers.AssignHandler())

			// Comments
			authenticated.GET("/issues/:id/comments", commentHandlers.ListHandler())
			authenticated.POST("/issues/:id/comments", commentHandlers.CreateHandler())
			authenticated.PATCH("/comments/:id", commentHandlers.UpdateHandler())
			authenticated.DELETE("/comments/:id", commentHandlers.DeleteHandler())

			// Notifications
			authenticated.GET("/notifications", notificationHandlers.ListHandler())
			authenticated.POST("/notifications/:id/read", notificationHandlers.MarkReadHandler())
			authenticated.POST("/notifications/read-all", notificationHandlers.MarkAllReadHandler())
			authenticated.DELETE("/notifications/:id", notificationHandlers.DeleteHandler())

			// Users. Listing and creation are staff surfaces; single-account
			// routes enforce self-or-staff inside the handler.
			authenticated.GET("/users",
				middleware.RequireRole(recorder, db, auth.RoleAdmin, auth.RoleSupport),
				userHandlers.ListHandler())
			authenticated.POST("/users",
				middleware.RequireRole(recorder, db, auth.RoleAdmin),
				userHandlers.CreateHandler())
			authenticated.GET("/users/:id", userHandlers.GetHandler())
			authenticated.PATCH("/users/:id", userHandlers.UpdateHandler())
			authenticated.DELETE("/users/:id", userHandlers.DeleteHandler())

			// Lookup tables: reads open to all authenticated users, writes
			// are staff-only
			authenticated.GET("/statuses", lookupHandlers.ListStatusesHandler())
			authenticated.GET("/priorities", lookupHandlers.ListPrioritiesHandler())
			authenticated.GET("/tags", lookupHandlers.ListTagsHandler())
			authenticated.GET("/roles", lookupHandlers.ListRolesHandler())

			staffLookups := authenticated.Group("")
			staffLookups.Use(middleware.RequireRole(recorder, db, auth.RoleAdmin, auth.RoleSupport))
			{
				staffLookups.POST("/statuses", lookupHandlers.CreateStatusHandler())
				staffLookups.PATCH("/statuses/:id", lookupHandlers.UpdateStatusHandler())
				staffLookups.DELETE("/statuses/:id", lookupHandlers.DeleteStatusHandler())
				staffLookups.POST("/priorities", lookupHandlers.CreatePriorityHandler())
				staffLookups.PATCH("/priorities/:id", lookupHandlers.UpdatePriorityHandler())
				staffLookups.DELETE("/priorities/:id", lookupHandlers.DeletePriorityHandler())
				staffLookups.POST("/tags", lookupHandlers.CreateTagHandler())
				staffLookups.PATCH("/tags/:id", lookupHandlers.UpdateTagHandler())
				staffLookups.DELETE("/tags/:id", lookupHandlers.DeleteTagHandler())
			}

			// Audit trail: admin only, read only
			adminAudit := authenticated.Group("")
			adminAudit.Use(middleware.RequireRole(recorder, db, auth.RoleAdmin))
			{
				adminAudit.GET("/audit-logs", auditHandlers.ListHandler())
				adminAudit.GET("/audit-logs/:id", auditHandlers.GetHandler())
				adminAudit.GET("/users/:id/audit-logs", auditHandlers.ListForUserHandler())
			}
		}
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns liveness of the service and its database connection.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID := c.GetString(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", requestID),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the
	// global handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
