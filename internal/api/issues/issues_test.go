package issues

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/tickhole/tickhole/internal/audit"
	"github.com/tickhole/tickhole/internal/config"
	"github.com/tickhole/tickhole/internal/db/models"
	"github.com/tickhole/tickhole/internal/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var issueCols = []string{"id", "title", "body", "owner_id", "assignee_id", "status_id", "priority_id", "deleted", "deleted_at", "created_at", "updated_at"}

func issueRow(id, ownerID, statusID string) *sqlmock.Rows {
	return sqlmock.NewRows(issueCols).
		AddRow(id, "Printer on fire", "It is on fire.", ownerID, nil, statusID, "prio-normal", false, nil, time.Now(), time.Now())
}

func testActor(id, role string) *models.User {
	return &models.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Test " + role,
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// newIssueRouter builds a router over sqlmock with the given actor already
// resolved, the way the auth middleware would leave it.
func newIssueRouter(t *testing.T, actor *models.User, logReads bool) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Audit.LogReads = logReads

	h := NewHandler(cfg, db, sqlx.NewDb(db, "postgres"), audit.NewRecorder(nil, nil))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorKey, actor)
		c.Set(middleware.UserIDKey, actor.ID)
		c.Next()
	})
	r.GET("/api/v1/issues", h.ListMineHandler())
	r.GET("/api/v1/issues/all", h.ListAllHandler())
	r.POST("/api/v1/issues", h.CreateHandler())
	r.GET("/api/v1/issues/:id", h.GetHandler())
	r.PATCH("/api/v1/issues/:id", h.UpdateHandler())
	r.DELETE("/api/v1/issues/:id", h.DeleteHandler())
	r.POST("/api/v1/issues/:id/assign", h.AssignHandler())
	return r, mock
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// expectAuditInsert matches the single audit row a denial or mutation writes.
// Only the action and suspicion score arguments are pinned; the rest vary per
// request.
func expectAuditInsert(mock sqlmock.Sqlmock, action string, score int) *sqlmock.ExpectedExec {
	return mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(
			sqlmock.AnyArg(), // id
			action,
			sqlmock.AnyArg(), // detail
			sqlmock.AnyArg(), // user_id
			sqlmock.AnyArg(), // resource_type
			sqlmock.AnyArg(), // resource_id
			sqlmock.AnyArg(), // ip_address
			sqlmock.AnyArg(), // user_agent
			sqlmock.AnyArg(), // request_path
			sqlmock.AnyArg(), // request_method
			score,
			false, // system_action
			sqlmock.AnyArg(), // created_at
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// ---------------------------------------------------------------------------
// ListMineHandler
// ---------------------------------------------------------------------------

func TestListMine_FiltersToOwner(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT COUNT.*FROM issues.*owner_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM issues.*owner_id.*ORDER BY created_at").
		WithArgs("user-1", 20, 0).
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))

	w := doJSON(r, http.MethodGet, "/api/v1/issues", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListAllHandler
// ---------------------------------------------------------------------------

func TestListAll_AllowedForSupport(t *testing.T) {
	actor := testActor("support-1", "support")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT COUNT.*FROM issues").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT.*FROM issues.*ORDER BY created_at").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))

	w := doJSON(r, http.MethodGet, "/api/v1/issues/all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListAll_DeniedForPlainUser(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	expectAuditInsert(mock, audit.ActionUnauthorizedAccess, 3)

	w := doJSON(r, http.MethodGet, "/api/v1/issues/all", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("denial must write exactly one audit record: %v", err)
	}
}

func TestListAll_RecordsReadWhenEnabled(t *testing.T) {
	actor := testActor("admin-1", "admin")
	r, mock := newIssueRouter(t, actor, true)

	mock.ExpectQuery("SELECT COUNT.*FROM issues").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT.*FROM issues.*ORDER BY created_at").
		WillReturnRows(sqlmock.NewRows(issueCols))
	expectAuditInsert(mock, audit.ActionListedAllIssues, 0)

	w := doJSON(r, http.MethodGet, "/api/v1/issues/all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetHandler
// ---------------------------------------------------------------------------

func TestGet_OwnerAllowed(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery("SELECT t.name.*FROM issue_tags").
		WithArgs("issue-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("hardware"))

	w := doJSON(r, http.MethodGet, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Tags) != 1 || resp.Tags[0] != "hardware" {
		t.Errorf("tags = %v, want [hardware]", resp.Tags)
	}
}

func TestGet_ForeignIssueDenied(t *testing.T) {
	actor := testActor("user-2", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	expectAuditInsert(mock, audit.ActionUnauthorizedAccess, 2)

	w := doJSON(r, http.MethodGet, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for foreign issue", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("denial must write exactly one audit record: %v", err)
	}
}

func TestGet_SupportReadsForeignIssue(t *testing.T) {
	actor := testActor("support-1", "support")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery("SELECT t.name.*FROM issue_tags").
		WithArgs("issue-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	w := doJSON(r, http.MethodGet, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for support reading any issue", w.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(issueCols))

	w := doJSON(r, http.MethodGet, "/api/v1/issues/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	// A missing issue is not a policy denial; nothing should be audited.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func TestCreate_DefaultsStatusAndPriority(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery(`SELECT \* FROM statuses WHERE name`).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "sort_order", "created_at"}).
			AddRow("status-open", "open", 1, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM priorities WHERE name`).
		WithArgs("normal").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "weight", "created_at"}).
			AddRow("prio-normal", "normal", 2, time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO issues").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditInsert(mock, audit.ActionCreatedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodPost, "/api/v1/issues", gin.H{
		"title": "Printer on fire",
		"body":  "It is on fire.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreate_UnknownTagRejected(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery(`SELECT \* FROM statuses WHERE name`).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "sort_order", "created_at"}).
			AddRow("status-open", "open", 1, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM priorities WHERE name`).
		WithArgs("normal").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "weight", "created_at"}).
			AddRow("prio-normal", "normal", 2, time.Now()))
	mock.ExpectQuery("SELECT.*FROM tags.*WHERE id").
		WithArgs("tag-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}))

	w := doJSON(r, http.MethodPost, "/api/v1/issues", gin.H{
		"title":   "Printer on fire",
		"body":    "It is on fire.",
		"tag_ids": []string{"tag-missing"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown tag", w.Code)
	}
}

func TestCreate_MissingTitleRejected(t *testing.T) {
	actor := testActor("user-1", "user")
	r, _ := newIssueRouter(t, actor, false)

	w := doJSON(r, http.MethodPost, "/api/v1/issues", gin.H{"body": "no title"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing title", w.Code)
	}
}

// ---------------------------------------------------------------------------
// UpdateHandler
// ---------------------------------------------------------------------------

func TestUpdate_OwnerEditsOwnIssue(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET title").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock, audit.ActionUpdatedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodPatch, "/api/v1/issues/issue-1", gin.H{
		"title": "Printer still on fire",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdate_StaffEditNotifiesOwner(t *testing.T) {
	actor := testActor("support-1", "support")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery(`SELECT \* FROM statuses WHERE id`).
		WithArgs("status-resolved").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "sort_order", "created_at"}).
			AddRow("status-resolved", "resolved", 3, time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET title").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditInsert(mock, audit.ActionUpdatedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodPatch, "/api/v1/issues/issue-1", gin.H{
		"status_id": "status-resolved",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("staff update must notify the owner in the same transaction: %v", err)
	}
}

func TestUpdate_ForeignIssueDenied(t *testing.T) {
	actor := testActor("user-2", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	expectAuditInsert(mock, audit.ActionUnauthorizedUpdate, 2)

	w := doJSON(r, http.MethodPatch, "/api/v1/issues/issue-1", gin.H{"title": "hijack"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for foreign update", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("denial must write exactly one audit record: %v", err)
	}
}

func TestUpdate_UnknownStatusRejected(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery(`SELECT \* FROM statuses WHERE id`).
		WithArgs("status-bogus").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "sort_order", "created_at"}))

	w := doJSON(r, http.MethodPatch, "/api/v1/issues/issue-1", gin.H{"status_id": "status-bogus"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DeleteHandler
// ---------------------------------------------------------------------------

func TestDelete_OwnerSoftDeletes(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET deleted = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock, audit.ActionDeletedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodDelete, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDelete_AdminDeletesForeignIssue(t *testing.T) {
	actor := testActor("admin-1", "admin")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-2", "status-open"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET deleted = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock, audit.ActionDeletedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodDelete, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDelete_AuditFailureRollsBack(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET deleted = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	w := doJSON(r, http.MethodDelete, "/api/v1/issues/issue-1", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when the audit write fails", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("mutation must roll back with its audit record: %v", err)
	}
}

// ---------------------------------------------------------------------------
// AssignHandler
// ---------------------------------------------------------------------------

func TestAssign_DeniedForPlainUser(t *testing.T) {
	actor := testActor("user-1", "user")
	r, mock := newIssueRouter(t, actor, false)

	// Assignment is staff-only even on the actor's own issue.
	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	expectAuditInsert(mock, audit.ActionUnauthorizedAccess, 3)

	w := doJSON(r, http.MethodPost, "/api/v1/issues/issue-1/assign", gin.H{
		"assignee_id": "support-1",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("denial must write exactly one audit record: %v", err)
	}
}

func TestAssign_SupportAssignsAndNotifies(t *testing.T) {
	actor := testActor("admin-1", "admin")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("support-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "suspended", "suspended_at", "created_at", "updated_at"}).
			AddRow("support-1", "support-1@example.com", "Support One", "x", "support", false, nil, time.Now(), time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues.*SET assignee_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditInsert(mock, audit.ActionAssignedIssue, 0)
	mock.ExpectCommit()

	w := doJSON(r, http.MethodPost, "/api/v1/issues/issue-1/assign", gin.H{
		"assignee_id": "support-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("assignment must notify the assignee in the same transaction: %v", err)
	}
}

func TestAssign_UnknownAssigneeRejected(t *testing.T) {
	actor := testActor("admin-1", "admin")
	r, mock := newIssueRouter(t, actor, false)

	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(issueRow("issue-1", "user-1", "status-open"))
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "suspended", "suspended_at", "created_at", "updated_at"}))

	w := doJSON(r, http.MethodPost, "/api/v1/issues/issue-1/assign", gin.H{
		"assignee_id": "ghost",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown assignee", w.Code)
	}
}
