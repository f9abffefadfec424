// Package repositories implements the data access layer (repository pattern) for tickhole.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly — all database access goes through this layer, which
// makes query logic testable in isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql operations repositories need. It is
// satisfied by both *sql.DB and *sql.Tx, so the same repository method can run
// standalone or inside a transaction. Mutating repositories expose WithTx to
// rebind onto a transaction, which is how a business write and its audit
// record end up in one atomic commit.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
