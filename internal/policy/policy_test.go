package policy

import (
	"testing"

	"github.com/tickhole/tickhole/internal/auth"
)

func TestDecide(t *testing.T) {
	admin := Actor{ID: "admin-1", Role: auth.RoleAdmin}
	support := Actor{ID: "support-1", Role: auth.RoleSupport}
	user := Actor{ID: "user-1", Role: auth.RoleUser}
	suspended := Actor{ID: "user-2", Role: auth.RoleUser, Suspended: true}

	ownIssue := Resource{Type: "issue", OwnerID: "user-1"}
	foreignIssue := Resource{Type: "issue", OwnerID: "someone-else"}
	ownComment := Resource{Type: "comment", OwnerID: "user-1"}
	foreignComment := Resource{Type: "comment", OwnerID: "someone-else"}
	account := Resource{Type: "user", OwnerID: "someone-else"}

	tests := []struct {
		name          string
		actor         Actor
		action        Action
		resource      Resource
		wantAllowed   bool
		wantSuspicion int
	}{
		// Admin may do anything
		{"admin reads foreign issue", admin, ActionRead, foreignIssue, true, 0},
		{"admin deletes foreign issue", admin, ActionDelete, foreignIssue, true, 0},
		{"admin lists all issues", admin, ActionListAll, Resource{Type: "issue"}, true, 0},
		{"admin assigns issue", admin, ActionAssign, foreignIssue, true, 0},
		{"admin manages accounts", admin, ActionManage, account, true, 0},

		// Support may work any issue or comment but not staff-admin surfaces
		{"support reads foreign issue", support, ActionRead, foreignIssue, true, 0},
		{"support updates foreign issue", support, ActionUpdate, foreignIssue, true, 0},
		{"support deletes foreign comment", support, ActionDelete, foreignComment, true, 0},
		{"support lists all issues", support, ActionListAll, Resource{Type: "issue"}, true, 0},
		{"support assigns issue", support, ActionAssign, foreignIssue, true, 0},
		{"support denied account management", support, ActionManage, account, false, SuspicionBulkEndpoint},

		// Users may only touch what they own
		{"user creates issue", user, ActionCreate, Resource{Type: "issue", OwnerID: "user-1"}, true, 0},
		{"user lists own issues", user, ActionList, Resource{Type: "issue", OwnerID: "user-1"}, true, 0},
		{"user reads own issue", user, ActionRead, ownIssue, true, 0},
		{"user updates own issue", user, ActionUpdate, ownIssue, true, 0},
		{"user deletes own issue", user, ActionDelete, ownIssue, true, 0},
		{"user updates own comment", user, ActionUpdate, ownComment, true, 0},
		{"user denied foreign issue read", user, ActionRead, foreignIssue, false, SuspicionForeignResource},
		{"user denied foreign issue update", user, ActionUpdate, foreignIssue, false, SuspicionForeignResource},
		{"user denied foreign issue delete", user, ActionDelete, foreignIssue, false, SuspicionForeignResource},
		{"user denied foreign comment update", user, ActionUpdate, foreignComment, false, SuspicionForeignResource},
		{"user denied list-all", user, ActionListAll, Resource{Type: "issue"}, false, SuspicionBulkEndpoint},
		{"user denied assignment of own issue", user, ActionAssign, ownIssue, false, SuspicionBulkEndpoint},
		{"user denied account management", user, ActionManage, account, false, SuspicionBulkEndpoint},

		// Ownerless resource never matches a plain user
		{"user denied resource with empty owner", user, ActionRead, Resource{Type: "issue"}, false, SuspicionForeignResource},

		// Suspended actors are denied everything, even their own resources
		{"suspended denied own issue", suspended, ActionRead, Resource{Type: "issue", OwnerID: "user-2"}, false, 0},
		{"suspended denied create", suspended, ActionCreate, Resource{Type: "issue", OwnerID: "user-2"}, false, 0},

		// Unknown actions are denied closed
		{"unknown action denied", user, Action("replicate"), ownIssue, false, SuspicionBulkEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.actor, tt.action, tt.resource)
			if got.Allowed != tt.wantAllowed {
				t.Errorf("Decide() Allowed = %v, want %v", got.Allowed, tt.wantAllowed)
			}
			if got.Suspicion != tt.wantSuspicion {
				t.Errorf("Decide() Suspicion = %d, want %d", got.Suspicion, tt.wantSuspicion)
			}
		})
	}
}

func TestDecide_AllowedNeverCarriesSuspicion(t *testing.T) {
	actors := []Actor{
		{ID: "a", Role: auth.RoleAdmin},
		{ID: "s", Role: auth.RoleSupport},
		{ID: "u", Role: auth.RoleUser},
	}
	actions := []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionListAll, ActionAssign, ActionManage}

	for _, actor := range actors {
		for _, action := range actions {
			d := Decide(actor, action, Resource{Type: "issue", OwnerID: actor.ID})
			if d.Allowed && d.Suspicion != 0 {
				t.Errorf("Decide(%s, %s) allowed with suspicion %d", actor.Role, action, d.Suspicion)
			}
		}
	}
}
