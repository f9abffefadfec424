package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/tickhole/tickhole/internal/db/models"
)

var issueCols = []string{"id", "title", "body", "owner_id", "assignee_id", "status_id", "priority_id", "deleted", "deleted_at", "created_at", "updated_at"}

func sampleIssueRow() *sqlmock.Rows {
	return sqlmock.NewRows(issueCols).
		AddRow("issue-1", "Printer on fire", "It is actually on fire", "user-1", nil, "status-open", "prio-high", false, nil, time.Now(), time.Now())
}

func newIssueRepo(t *testing.T) (*IssueRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIssueRepository(db), mock
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// CreateIssue
// ---------------------------------------------------------------------------

func TestCreateIssue(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectExec("INSERT INTO issues").
		WillReturnResult(sqlmock.NewResult(0, 1))

	issue := &models.Issue{
		Title:      "Printer on fire",
		Body:       "It is actually on fire",
		OwnerID:    "user-1",
		StatusID:   "status-open",
		PriorityID: "prio-high",
	}
	if err := repo.CreateIssue(context.Background(), issue); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
}

// ---------------------------------------------------------------------------
// GetIssueByID
// ---------------------------------------------------------------------------

func TestGetIssueByID_Found(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnRows(sampleIssueRow())

	issue, err := repo.GetIssueByID(context.Background(), "issue-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue == nil {
		t.Fatal("expected issue, got nil")
	}
	if issue.Title != "Printer on fire" {
		t.Errorf("Title = %s, want Printer on fire", issue.Title)
	}
}

func TestGetIssueByID_NotFound(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(issueCols))

	issue, err := repo.GetIssueByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue != nil {
		t.Errorf("expected nil issue for not found, got %v", issue)
	}
}

func TestGetIssueByID_DBError(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT.*FROM issues.*WHERE id").
		WithArgs("issue-1").
		WillReturnError(errDB)

	_, err := repo.GetIssueByID(context.Background(), "issue-1")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// SoftDeleteIssue
// ---------------------------------------------------------------------------

func TestSoftDeleteIssue(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectExec("UPDATE issues.*SET deleted = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDeleteIssue(context.Background(), "issue-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// AssignIssue
// ---------------------------------------------------------------------------

func TestAssignIssue(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectExec("UPDATE issues.*SET assignee_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AssignIssue(context.Background(), "issue-1", strPtr("support-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAssignIssue_Clear(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectExec("UPDATE issues.*SET assignee_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AssignIssue(context.Background(), "issue-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListIssues
// ---------------------------------------------------------------------------

func TestListIssues_NoFilters(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM issues").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM issues.*ORDER BY created_at").
		WithArgs(20, 0).
		WillReturnRows(sampleIssueRow())

	issues, total, err := repo.ListIssues(context.Background(), IssueFilters{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(issues) != 1 {
		t.Errorf("len(issues) = %d, want 1", len(issues))
	}
}

func TestListIssues_OwnerFilter(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM issues.*owner_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM issues.*owner_id.*ORDER BY created_at").
		WithArgs("user-1", 20, 0).
		WillReturnRows(sampleIssueRow())

	issues, total, err := repo.ListIssues(context.Background(), IssueFilters{OwnerID: strPtr("user-1")}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if issues[0].OwnerID != "user-1" {
		t.Errorf("OwnerID = %s, want user-1", issues[0].OwnerID)
	}
}

func TestListIssues_StatusAndTagFilters(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM issues.*status_id.*issue_tags").
		WithArgs("status-open", "tag-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM issues.*status_id.*issue_tags.*ORDER BY created_at").
		WithArgs("status-open", "tag-1", 20, 0).
		WillReturnRows(sampleIssueRow())

	_, total, err := repo.ListIssues(context.Background(), IssueFilters{
		StatusID: strPtr("status-open"),
		TagID:    strPtr("tag-1"),
	}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestListIssues_CountError(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM issues").
		WillReturnError(errDB)

	_, _, err := repo.ListIssues(context.Background(), IssueFilters{}, 20, 0)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

func TestGetIssueTags(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectQuery("SELECT t.name.*FROM issue_tags").
		WithArgs("issue-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("hardware").AddRow("urgent"))

	tags, err := repo.GetIssueTags(context.Background(), "issue-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2", len(tags))
	}
	if tags[0] != "hardware" {
		t.Errorf("tags[0] = %s, want hardware", tags[0])
	}
}

func TestSetIssueTags(t *testing.T) {
	repo, mock := newIssueRepo(t)
	mock.ExpectExec("DELETE FROM issue_tags").
		WithArgs("issue-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO issue_tags").
		WithArgs("issue-1", "tag-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO issue_tags").
		WithArgs("issue-1", "tag-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetIssueTags(context.Background(), "issue-1", []string{"tag-1", "tag-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
