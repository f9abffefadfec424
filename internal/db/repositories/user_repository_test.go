package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/tickhole/tickhole/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{"id", "email", "name", "password_hash", "role", "suspended", "suspended_at", "created_at", "updated_at"}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", "Alice", "$2a$10$hash", "user", false, nil, time.Now(), time.Now())
}

func emptyUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols)
}

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateUser
// ---------------------------------------------------------------------------

func TestCreateUser(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$2a$10$hash",
		Role:         "user",
	}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
}

func TestCreateUser_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(errDB)

	err := repo.CreateUser(context.Background(), &models.User{Email: "x@example.com"})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetUserByID
// ---------------------------------------------------------------------------

func TestGetUserByID_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetUserByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID != "user-1" {
		t.Errorf("ID = %s, want user-1", user.ID)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE id").
		WithArgs("missing").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user for not found, got %v", user)
	}
}

func TestGetUserByID_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE id").
		WithArgs("user-1").
		WillReturnError(errDB)

	_, err := repo.GetUserByID(context.Background(), "user-1")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetUserByEmail
// ---------------------------------------------------------------------------

func TestGetUserByEmail_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %v", user)
	}
}

// ---------------------------------------------------------------------------
// SetRole / SetSuspended
// ---------------------------------------------------------------------------

func TestSetRole(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users.*SET role").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetRole(context.Background(), "user-1", "support"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetSuspended_Suspend(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users.*SET suspended").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetSuspended(context.Background(), "user-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetSuspended_Reinstate(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users.*SET suspended").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetSuspended(context.Background(), "user-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// DeleteUser
// ---------------------------------------------------------------------------

func TestDeleteUser_PurgesReferencingRows(t *testing.T) {
	// Deletion order matters: every table with a foreign key to users (or to
	// the user's issues) is cleaned up before the user row itself, so the
	// final DELETE never hits a constraint.
	repo, mock := newUserRepo(t)

	mock.ExpectExec("UPDATE issues SET assignee_id = NULL").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM notifications WHERE user_id").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM notifications WHERE issue_id IN").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM comments WHERE author_id").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM comments WHERE issue_id IN").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM issue_tags WHERE issue_id IN").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM issues WHERE owner_id").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM users WHERE id").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteUser_StopsOnFirstFailure(t *testing.T) {
	repo, mock := newUserRepo(t)

	mock.ExpectExec("UPDATE issues SET assignee_id = NULL").
		WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM notifications WHERE user_id").
		WithArgs("user-1").WillReturnError(errDB)

	if err := repo.DeleteUser(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error when a cleanup statement fails")
	}
}

// ---------------------------------------------------------------------------
// ListUsers
// ---------------------------------------------------------------------------

func TestListUsers(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT.*FROM users.*ORDER BY created_at").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "alice@example.com", "Alice", "h1", "user", false, nil, time.Now(), time.Now()).
			AddRow("user-2", "bob@example.com", "Bob", "h2", "support", false, nil, time.Now(), time.Now()))

	users, total, err := repo.ListUsers(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(users) != 2 {
		t.Errorf("len(users) = %d, want 2", len(users))
	}
}

func TestListUsers_CountError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM users").
		WillReturnError(errDB)

	_, _, err := repo.ListUsers(context.Background(), 20, 0)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CountAdmins
// ---------------------------------------------------------------------------

func TestCountAdmins(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM users.*role = 'admin'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	total, err := repo.CountAdmins(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}
