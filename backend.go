package pgadapter

import (
	"context"

	"github.com/lib/pq/oid"
)

// ColumnMeta describes a single result column's name and Postgres OID, as
// reported by a Backend's Describe call ahead of actually running a query.
type ColumnMeta struct {
	Name string
	Oid  oid.Oid
}

// BackendRow is a single row of query results returned by a Backend, using the
// the same positional layout as the RowDescription sent for the query.
type BackendRow []any

// BackendResult describes the outcome of a non-SELECT statement execution.
type BackendResult struct {
	// Tag is the command tag reported back to the client, e.g. "UPDATE 3".
	Tag string
	// RowsAffected is the number of rows touched by an INSERT/UPDATE/DELETE.
	RowsAffected int64
}

// Backend abstracts the Cloud Spanner PostgreSQL-dialect database that client
// sessions are translated against. A single Backend is shared by every
// connection; per-session transaction state is carried in the BackendTx
// returned by BeginTx.
type Backend interface {
	// Query executes a read statement and streams rows to fn until the
	// result set is exhausted or fn returns an error.
	Query(ctx context.Context, tx *BackendTx, sql string, args []any, fn func(BackendRow) error) error

	// Describe resolves the result column metadata of sql without returning
	// any rows, used to answer the extended query protocol's Describe
	// message ahead of Bind/Execute.
	Describe(ctx context.Context, sql string) ([]ColumnMeta, error)

	// Execute runs a single DML or DDL statement inside tx, or in its own
	// autocommit transaction when tx is nil.
	Execute(ctx context.Context, tx *BackendTx, sql string, args []any) (BackendResult, error)

	// BeginTx starts a new read/write transaction and returns a handle that
	// subsequent Query/Execute/BufferMutation calls are scoped to.
	BeginTx(ctx context.Context) (*BackendTx, error)

	// Commit commits the transaction started by BeginTx.
	Commit(ctx context.Context, tx *BackendTx) error

	// Rollback aborts the transaction started by BeginTx.
	Rollback(ctx context.Context, tx *BackendTx) error

	// BufferMutation queues a row mutation generated by a COPY FROM STDIN
	// operation against the given transaction, without sending it to Spanner.
	BufferMutation(ctx context.Context, tx *BackendTx, m Mutation) error

	// FlushMutations sends all mutations buffered on tx to Spanner. Called
	// when a batching threshold is hit and at the end of a COPY operation.
	FlushMutations(ctx context.Context, tx *BackendTx) (int64, error)

	// Cancel aborts any statement currently running on behalf of tx, used to
	// implement CancelRequest.
	Cancel(ctx context.Context, tx *BackendTx) error

	// Close releases resources held by the backend, e.g. the Spanner client.
	Close() error
}

// MutationOp is the kind of row mutation buffered for a COPY FROM STDIN.
type MutationOp int

const (
	MutationInsert MutationOp = iota
	MutationInsertOrUpdate
)

// Mutation is a single buffered row write produced while consuming a COPY
// FROM STDIN stream, prior to being flushed to the backend.
type Mutation struct {
	Table   string
	Columns []string
	Values  []any
	Op      MutationOp
}

// BackendTx represents an in-flight transaction against the backend. The
// bufferedRows/bufferedBytes fields are not updated by this package; buffered
// COPY mutations are sent when the caller invokes FlushMutations.
type BackendTx struct {
	handle any // opaque, backend-specific transaction handle

	bufferedRows  int
	bufferedBytes int64
	errorSticky   bool
}

// SetHandle stores the backend-specific transaction handle. Called by Backend
// implementations from BeginTx; not meant for wire-protocol code.
func (tx *BackendTx) SetHandle(h any) {
	tx.handle = h
}

// Handle returns the backend-specific transaction handle stored by SetHandle.
func (tx *BackendTx) Handle() any {
	return tx.handle
}

// MarkErrorSticky records that this transaction has seen an error and must
// reject all further statements until ROLLBACK or COMMIT ends it, mirroring
// Spanner's "once aborted, stays aborted" transaction semantics.
func (tx *BackendTx) MarkErrorSticky() {
	tx.errorSticky = true
}

// ErrorSticky reports whether the transaction is in the rejected state.
func (tx *BackendTx) ErrorSticky() bool {
	return tx != nil && tx.errorSticky
}
