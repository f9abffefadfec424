package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var authUserCols = []string{"id", "email", "name", "password_hash", "role", "suspended", "suspended_at", "created_at", "updated_at"}

func newAuthResolver(t *testing.T) (*auth.Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return auth.NewResolver(repositories.NewUserRepository(db)), mock
}

// newAuthRouter builds a router with AuthMiddleware and a handler that reports
// whether the actor landed in the context.
func newAuthRouter(resolver *auth.Resolver) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(resolver))
	r.GET("/", func(c *gin.Context) {
		if _, ok := GetActor(c); !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func doAuthRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func generateTestJWT(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, "test@example.com", "Test User", role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

// ---------------------------------------------------------------------------
// AuthMiddleware — early-exit paths (no repository calls needed)
// ---------------------------------------------------------------------------

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	resolver, _ := newAuthResolver(t)
	if w := doAuthRequest(newAuthRouter(resolver), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for missing header", w.Code)
	}
}

func TestAuthMiddleware_WrongScheme(t *testing.T) {
	resolver, _ := newAuthResolver(t)
	if w := doAuthRequest(newAuthRouter(resolver), "Basic dXNlcjpwYXNz"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for non-Bearer scheme", w.Code)
	}
}

func TestAuthMiddleware_EmptyToken(t *testing.T) {
	resolver, _ := newAuthResolver(t)
	if w := doAuthRequest(newAuthRouter(resolver), "Bearer   "); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for empty token", w.Code)
	}
}

func TestAuthMiddleware_MalformedToken(t *testing.T) {
	resolver, _ := newAuthResolver(t)
	if w := doAuthRequest(newAuthRouter(resolver), "Bearer not.a.jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for malformed token", w.Code)
	}
}

// ---------------------------------------------------------------------------
// AuthMiddleware — resolution against the user row
// ---------------------------------------------------------------------------

func TestAuthMiddleware_ValidTokenActiveUser(t *testing.T) {
	resolver, mock := newAuthResolver(t)
	token := generateTestJWT(t, "user-1", "user")

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(authUserCols).
			AddRow("user-1", "test@example.com", "Test User", "hash", "user", false, nil, time.Now(), time.Now()))

	w := doAuthRequest(newAuthRouter(resolver), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for valid token and live account", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuthMiddleware_TokenForDeletedUser(t *testing.T) {
	resolver, mock := newAuthResolver(t)
	token := generateTestJWT(t, "gone-user", "user")

	// (nil, nil) from the repository: the account no longer exists
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("gone-user").
		WillReturnRows(sqlmock.NewRows(authUserCols))

	w := doAuthRequest(newAuthRouter(resolver), "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when the account row is gone", w.Code)
	}
}

func TestAuthMiddleware_TokenForSuspendedUser(t *testing.T) {
	resolver, mock := newAuthResolver(t)
	token := generateTestJWT(t, "susp-user", "user")

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("susp-user").
		WillReturnRows(sqlmock.NewRows(authUserCols).
			AddRow("susp-user", "s@example.com", "Suspended", "hash", "user", true, &now, now, now))

	w := doAuthRequest(newAuthRouter(resolver), "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for suspended account even with a valid token", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetActor
// ---------------------------------------------------------------------------

func TestGetActor_AbsentFromContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := GetActor(c); ok {
		t.Error("GetActor() = true on a context with no auth, want false")
	}
}
