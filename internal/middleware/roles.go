// roles.go implements the role gate for admin/support route groups.
//
// Roles are checked against the freshly resolved user row rather than the JWT
// claims. This is a deliberate design choice: when an account is demoted or
// suspended, the change takes effect on the very next request without needing
// to invalidate or reissue the token.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/policy"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// RequireRole gates a route group to the given roles. A request from any
// other role is recorded in the audit trail as an unauthorized access attempt
// with the bulk-endpoint suspicion score, then rejected with 401. The audit
// record is written before the response: a denial without its record never
// happens, even if the client disconnects.
func RequireRole(rec *audit.Recorder, db audit.DBTX, allowed ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		role := auth.Role(actor.Role)
		for _, a := range allowed {
			if role == a {
				c.Next()
				return
			}
		}

		score := policy.SuspicionBulkEndpoint
		entry := audit.Entry{
			Action:       audit.ActionUnauthorizedAccess,
			Detail:       "Role " + actor.Role + " attempted to access " + c.Request.Method + " " + c.Request.URL.Path,
			UserID:       &actor.ID,
			ResourceType: "endpoint",
			ResourceID:   c.FullPath(),
			Meta:         audit.MetaFromRequest(c.Request),
			Suspicion:    score,
		}

		log, err := rec.Record(c.Request.Context(), db, entry)
		if err != nil {
			// The rejection stands regardless; a lost denial record is logged loudly.
			slog.Error("failed to record authorization denial", "error", err, "user_id", actor.ID, "path", c.Request.URL.Path)
		} else {
			rec.ShipAsync(log)
		}

		telemetry.AuthzDenialsTotal.WithLabelValues(strconv.Itoa(score)).Inc()

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Insufficient permissions",
		})
	}
}
