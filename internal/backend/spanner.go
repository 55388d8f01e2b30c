// Package backend adapts the Cloud Spanner PostgreSQL-dialect client
// libraries to the pgadapter.Backend interface consumed by the wire protocol
// layer.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/spanner"
	spannerpb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/lib/pq/oid"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudspannerecosystem/pgadapter-go"
)

// oidForSpannerType maps a Cloud Spanner column type to the Postgres OID
// reported in RowDescription, covering the scalar types the PostgreSQL
// dialect exposes.
func oidForSpannerType(t *spannerpb.Type) oid.Oid {
	if t == nil {
		return oid.T_text
	}
	switch t.Code {
	case spannerpb.TypeCode_BOOL:
		return oid.T_bool
	case spannerpb.TypeCode_INT64:
		return oid.T_int8
	case spannerpb.TypeCode_FLOAT64:
		return oid.T_float8
	case spannerpb.TypeCode_NUMERIC:
		return oid.T_numeric
	case spannerpb.TypeCode_STRING:
		return oid.T_text
	case spannerpb.TypeCode_BYTES:
		return oid.T_bytea
	case spannerpb.TypeCode_DATE:
		return oid.T_date
	case spannerpb.TypeCode_TIMESTAMP:
		return oid.T_timestamptz
	case spannerpb.TypeCode_JSON:
		return oid.T_jsonb
	case spannerpb.TypeCode_ARRAY:
		return oidForSpannerArrayType(t)
	default:
		return oid.T_text
	}
}

func oidForSpannerArrayType(t *spannerpb.Type) oid.Oid {
	switch oidForSpannerType(t.ArrayElementType) {
	case oid.T_int8:
		return oid.T__int8
	case oid.T_text:
		return oid.T__text
	case oid.T_float8:
		return oid.T__float8
	case oid.T_bool:
		return oid.T__bool
	default:
		return oid.T__text
	}
}

// SpannerBackend executes translated statements against a single Cloud
// Spanner database using the PostgreSQL dialect.
type SpannerBackend struct {
	client *spanner.Client
	logger *slog.Logger
}

// Config names the Spanner database a SpannerBackend connects to.
type Config struct {
	Project  string
	Instance string
	Database string

	// ClientOptions are forwarded to the underlying spanner.Client, e.g. for
	// tests that point at the Spanner emulator with option.WithEndpoint/
	// option.WithoutAuthentication.
	ClientOptions []option.ClientOption
}

func (c Config) databasePath() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.Project, c.Instance, c.Database)
}

// NewSpannerBackend dials the given Spanner database and returns a Backend
// ready to serve client connections.
func NewSpannerBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*SpannerBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := spanner.NewClient(ctx, cfg.databasePath(), cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("dialing spanner database %s: %w", cfg.databasePath(), err)
	}

	return &SpannerBackend{client: client, logger: logger}, nil
}

// spannerTx is the backend-specific handle stashed in pgadapter.BackendTx.
type spannerTx struct {
	rw        *spanner.ReadWriteStmtBasedTransaction
	cancel    context.CancelFunc
	mutations []*spanner.Mutation
}

// BeginTx starts a Cloud Spanner read/write transaction.
func (b *SpannerBackend) BeginTx(ctx context.Context) (*pgadapter.BackendTx, error) {
	txCtx, cancel := context.WithCancel(ctx)
	rw, err := spanner.NewReadWriteStmtBasedTransaction(txCtx, b.client)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	tx := &pgadapter.BackendTx{}
	tx.SetHandle(&spannerTx{rw: rw, cancel: cancel})
	return tx, nil
}

// Commit commits the transaction, retrying internally is left to the Spanner
// client library's own ABORTED handling.
func (b *SpannerBackend) Commit(ctx context.Context, tx *pgadapter.BackendTx) error {
	sTx, err := handle(tx)
	if err != nil {
		return err
	}
	defer sTx.cancel()

	_, err = sTx.rw.CommitWithReturnResp(ctx)
	if err != nil {
		return translateSpannerErr(err)
	}
	return nil
}

// Rollback aborts the transaction.
func (b *SpannerBackend) Rollback(ctx context.Context, tx *pgadapter.BackendTx) error {
	sTx, err := handle(tx)
	if err != nil {
		return err
	}
	defer sTx.cancel()

	sTx.rw.Rollback(ctx)
	return nil
}

// Query runs a read-only (or DML-with-returning) statement and streams rows.
func (b *SpannerBackend) Query(ctx context.Context, tx *pgadapter.BackendTx, sql string, args []any, fn func(pgadapter.BackendRow) error) error {
	stmt, err := toStatement(sql, args)
	if err != nil {
		return err
	}

	var iter *spanner.RowIterator
	if tx == nil {
		iter = b.client.Single().Query(ctx, stmt)
	} else {
		sTx, err := handle(tx)
		if err != nil {
			return err
		}
		iter = sTx.rw.Query(ctx, stmt)
	}
	defer iter.Stop()

	for {
		row, err := iter.Next()
		if err == spanner.ErrNoRowsFound || err == spanner.ErrRowIteratorDone {
			break
		}
		if err != nil {
			return translateSpannerErr(err)
		}

		values, err := rowToSlice(row)
		if err != nil {
			return err
		}

		if err := fn(values); err != nil {
			return err
		}
	}

	return nil
}

// Describe resolves sql's result column names and types by running it
// against a single-use read-only transaction and inspecting the metadata
// Cloud Spanner attaches to the first row page, without requiring the
// caller to consume any rows.
func (b *SpannerBackend) Describe(ctx context.Context, sql string) ([]pgadapter.ColumnMeta, error) {
	stmt, err := toStatement(sql, nil)
	if err != nil {
		return nil, err
	}

	iter := b.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	_, err = iter.Next()
	if err != nil && err != spanner.ErrRowIteratorDone && err != spanner.ErrNoRowsFound {
		return nil, translateSpannerErr(err)
	}

	if iter.Metadata == nil || iter.Metadata.RowType == nil {
		return nil, nil
	}

	fields := iter.Metadata.RowType.Fields
	columns := make([]pgadapter.ColumnMeta, len(fields))
	for i, f := range fields {
		columns[i] = pgadapter.ColumnMeta{Name: f.Name, Oid: oidForSpannerType(f.Type)}
	}
	return columns, nil
}

// Execute runs a single DML/DDL statement.
func (b *SpannerBackend) Execute(ctx context.Context, tx *pgadapter.BackendTx, sql string, args []any) (pgadapter.BackendResult, error) {
	stmt, err := toStatement(sql, args)
	if err != nil {
		return pgadapter.BackendResult{}, err
	}

	if tx == nil {
		var rowsAffected int64
		_, err := b.client.ReadWriteTransaction(ctx, func(ctx context.Context, rw *spanner.ReadWriteTransaction) error {
			n, err := rw.Update(ctx, stmt)
			rowsAffected = n
			return err
		})
		if err != nil {
			return pgadapter.BackendResult{}, translateSpannerErr(err)
		}
		return pgadapter.BackendResult{RowsAffected: rowsAffected}, nil
	}

	sTx, err := handle(tx)
	if err != nil {
		return pgadapter.BackendResult{}, err
	}

	rowsAffected, err := sTx.rw.Update(ctx, stmt)
	if err != nil {
		return pgadapter.BackendResult{}, translateSpannerErr(err)
	}

	return pgadapter.BackendResult{RowsAffected: rowsAffected}, nil
}

// BufferMutation queues a mutation built from a COPY FROM STDIN row without
// sending it to Spanner yet.
func (b *SpannerBackend) BufferMutation(ctx context.Context, tx *pgadapter.BackendTx, m pgadapter.Mutation) error {
	sTx, err := handle(tx)
	if err != nil {
		return err
	}

	var mut *spanner.Mutation
	switch m.Op {
	case pgadapter.MutationInsertOrUpdate:
		mut = spanner.InsertOrUpdate(m.Table, m.Columns, m.Values)
	default:
		mut = spanner.Insert(m.Table, m.Columns, m.Values)
	}

	sTx.mutations = append(sTx.mutations, mut)
	return nil
}

// FlushMutations buffers the pending mutations into the transaction's write
// set. Cloud Spanner does not apply mutations until commit, so this only
// moves them from our in-memory queue into the transaction buffer.
func (b *SpannerBackend) FlushMutations(ctx context.Context, tx *pgadapter.BackendTx) (int64, error) {
	sTx, err := handle(tx)
	if err != nil {
		return 0, err
	}

	if err := sTx.rw.BufferWrite(sTx.mutations); err != nil {
		return 0, translateSpannerErr(err)
	}

	n := int64(len(sTx.mutations))
	sTx.mutations = nil
	return n, nil
}

// Cancel tears down the context backing tx's Spanner transaction.
func (b *SpannerBackend) Cancel(ctx context.Context, tx *pgadapter.BackendTx) error {
	sTx, err := handle(tx)
	if err != nil {
		return err
	}
	sTx.cancel()
	return nil
}

// Close releases the underlying Spanner client.
func (b *SpannerBackend) Close() error {
	b.client.Close()
	return nil
}

func handle(tx *pgadapter.BackendTx) (*spannerTx, error) {
	if tx == nil {
		return nil, fmt.Errorf("no active transaction")
	}
	sTx, ok := tx.Handle().(*spannerTx)
	if !ok || sTx == nil {
		return nil, fmt.Errorf("transaction handle not bound to a spanner transaction")
	}
	return sTx, nil
}

func toStatement(sql string, args []any) (spanner.Statement, error) {
	stmt := spanner.Statement{SQL: sql, Params: map[string]any{}}
	for i, a := range args {
		stmt.Params[fmt.Sprintf("p%d", i+1)] = a
	}
	return stmt, nil
}

func rowToSlice(row *spanner.Row) (pgadapter.BackendRow, error) {
	values := make([]any, row.Size())
	for i := range values {
		var v spanner.GenericColumnValue
		if err := row.Column(i, &v); err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func translateSpannerErr(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.AlreadyExists:
			return fmt.Errorf("unique constraint violation: %w", err)
		case codes.NotFound:
			return fmt.Errorf("not found: %w", err)
		case codes.Aborted:
			return fmt.Errorf("transaction aborted, retry: %w", err)
		case codes.InvalidArgument:
			return fmt.Errorf("invalid statement: %w", err)
		}
	}
	return err
}
