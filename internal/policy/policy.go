// Package policy implements authorization decisions for tickhole.
//
// The package is deliberately pure: Decide takes an actor, an action, and a
// resource and returns a decision with no database or network access, so the
// whole rule set is testable as a table. Every denial carries a static
// suspicion score that the caller writes into the audit trail; the score has
// no downstream effect on the decision itself.
package policy

import "github.com/tickhole/tickhole/internal/auth"

// Suspicion scores attached to denials. Scores are static per denial class,
// not accumulated per actor.
const (
	// SuspicionForeignResource marks an attempt to touch a resource the
	// actor does not own
	SuspicionForeignResource = 2
	// SuspicionBulkEndpoint marks an attempt to reach a staff-only surface:
	// list-all, assignment, account management, or the audit trail
	SuspicionBulkEndpoint = 3
)

// Action is an operation an actor can attempt against a resource
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"     // list resources the actor owns
	ActionListAll Action = "list_all" // list every resource in the system
	ActionAssign  Action = "assign"   // set an issue's assignee
	ActionManage  Action = "manage"   // account administration and audit access
)

// Actor is the authenticated account attempting an action
type Actor struct {
	ID        string
	Role      auth.Role
	Suspended bool
}

// Resource identifies the target of an action. OwnerID is the account the
// resource belongs to: the creator for issues, the author for comments, the
// recipient for notifications, the account itself for users. For actions
// without a concrete target (create, list) OwnerID is the actor's own ID.
type Resource struct {
	Type    string
	OwnerID string
}

// Decision is the outcome of a policy check. Suspicion is zero when Allowed
// is true.
type Decision struct {
	Allowed   bool
	Suspicion int
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(suspicion int) Decision {
	return Decision{Allowed: false, Suspicion: suspicion}
}

// Decide evaluates whether the actor may perform the action on the resource.
//
// Admins may do anything. Support may work any issue, comment, or
// notification but may not reach account management or the audit trail.
// Plain users may only touch resources they own, and never staff surfaces.
// A suspended actor is denied everything; callers normally reject suspended
// accounts at token resolution, so this is a second fence, not the first.
func Decide(actor Actor, action Action, resource Resource) Decision {
	if actor.Suspended {
		return deny(0)
	}

	if actor.Role == auth.RoleAdmin {
		return allow()
	}

	switch action {
	case ActionManage:
		// Admin only, regardless of ownership
		return deny(SuspicionBulkEndpoint)

	case ActionListAll, ActionAssign:
		if actor.Role.Privileged() {
			return allow()
		}
		return deny(SuspicionBulkEndpoint)

	case ActionCreate, ActionList:
		// Any active account may create resources and list its own
		return allow()

	case ActionRead, ActionUpdate, ActionDelete:
		if actor.Role.Privileged() {
			return allow()
		}
		if resource.OwnerID != "" && resource.OwnerID == actor.ID {
			return allow()
		}
		return deny(SuspicionForeignResource)
	}

	// Unknown action: deny closed
	return deny(SuspicionBulkEndpoint)
}
