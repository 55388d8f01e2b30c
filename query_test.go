package pgadapter

import (
	"context"
	"testing"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspannerecosystem/pgadapter-go/internal/session"
)

// stubBackend is a minimal Backend used to exercise query.go's statement
// handlers without pulling in internal/backend (which itself depends on this
// package for its Backend interface, and would create an import cycle from
// an internal test file).
type stubBackend struct {
	executed []string
	rows     []BackendRow
	tx       *BackendTx
	committed, rolledBack bool
}

func (b *stubBackend) Query(ctx context.Context, tx *BackendTx, sql string, args []any, fn func(BackendRow) error) error {
	for _, row := range b.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (b *stubBackend) Describe(ctx context.Context, sql string) ([]ColumnMeta, error) {
	return []ColumnMeta{{Name: "id", Oid: oid.T_int8}}, nil
}

func (b *stubBackend) Execute(ctx context.Context, tx *BackendTx, sql string, args []any) (BackendResult, error) {
	b.executed = append(b.executed, sql)
	return BackendResult{RowsAffected: 1}, nil
}

func (b *stubBackend) BeginTx(ctx context.Context) (*BackendTx, error) {
	tx := &BackendTx{}
	b.tx = tx
	return tx, nil
}

func (b *stubBackend) Commit(ctx context.Context, tx *BackendTx) error {
	b.committed = true
	return nil
}

func (b *stubBackend) Rollback(ctx context.Context, tx *BackendTx) error {
	b.rolledBack = true
	return nil
}

func (b *stubBackend) BufferMutation(ctx context.Context, tx *BackendTx, m Mutation) error { return nil }
func (b *stubBackend) FlushMutations(ctx context.Context, tx *BackendTx) (int64, error)    { return 0, nil }
func (b *stubBackend) Cancel(ctx context.Context, tx *BackendTx) error                     { return nil }
func (b *stubBackend) Close() error                                                        { return nil }

var _ Backend = (*stubBackend)(nil)

func testContext(t *testing.T, backend Backend) context.Context {
	t.Helper()
	ctx := context.Background()
	if backend != nil {
		ctx = setBackend(ctx, backend)
	}
	ctx = setTxHolder(ctx)
	ctx = setSession(ctx, session.New())
	return ctx
}

func TestPrepareBeginCommit(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	begin := prepareBegin()
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, begin.fn(ctx, rc, nil))
	assert.Equal(t, "BEGIN", rc.Tag())
	assert.NotNil(t, currentTx(ctx))

	commit := prepareCommit()
	rc = NewResultCollector(ctx, nil)
	require.NoError(t, commit.fn(ctx, rc, nil))
	assert.Equal(t, "COMMIT", rc.Tag())
	assert.True(t, backend.committed)
	assert.Nil(t, currentTx(ctx))
}

func TestPrepareRollback(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	require.NoError(t, prepareBegin().fn(ctx, NewResultCollector(ctx, nil), nil))

	rollback := prepareRollback()
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, rollback.fn(ctx, rc, nil))
	assert.Equal(t, "ROLLBACK", rc.Tag())
	assert.True(t, backend.rolledBack)
	assert.Nil(t, currentTx(ctx))
}

func TestPrepareSetAndShow(t *testing.T) {
	ctx := testContext(t, nil)

	set := prepareSet("SET application_name = 'myapp'")
	require.NoError(t, set.fn(ctx, NewResultCollector(ctx, nil), nil))

	show := prepareShow("SHOW application_name")
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, show.fn(ctx, rc, nil))
	require.Len(t, rc.Rows(), 1)
	assert.Equal(t, "myapp", rc.Rows()[0][0])
}

func TestPrepareSetLocalRevertsAfterRollback(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	require.NoError(t, prepareBegin().fn(ctx, NewResultCollector(ctx, nil), nil))
	require.NoError(t, prepareSet("SET LOCAL statement_timeout TO '5000'").fn(ctx, NewResultCollector(ctx, nil), nil))

	show := prepareShow("SHOW statement_timeout")
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, show.fn(ctx, rc, nil))
	assert.Equal(t, "5000", rc.Rows()[0][0])

	require.NoError(t, prepareRollback().fn(ctx, NewResultCollector(ctx, nil), nil))

	rc = NewResultCollector(ctx, nil)
	require.NoError(t, show.fn(ctx, rc, nil))
	assert.Equal(t, "0", rc.Rows()[0][0])
}

func TestPrepareReset(t *testing.T) {
	ctx := testContext(t, nil)

	require.NoError(t, prepareSet("SET timezone = 'America/New_York'").fn(ctx, NewResultCollector(ctx, nil), nil))
	require.NoError(t, prepareReset("RESET timezone").fn(ctx, NewResultCollector(ctx, nil), nil))

	rc := NewResultCollector(ctx, nil)
	require.NoError(t, prepareShow("SHOW timezone").fn(ctx, rc, nil))
	assert.Equal(t, "UTC", rc.Rows()[0][0])
}

func TestPrepareDMLUsesGeneratedTag(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	dml := prepareDML("UPDATE accounts SET balance = 1")
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, dml.fn(ctx, rc, nil))
	assert.Equal(t, "UPDATE 1", rc.Tag())
}

func TestPrepareQueryCompletesWithSelectTag(t *testing.T) {
	backend := &stubBackend{rows: []BackendRow{{"1"}, {"2"}}}
	ctx := testContext(t, backend)

	stmt, err := prepareQuery(ctx, backend, "SELECT id FROM accounts")
	require.NoError(t, err)

	rc := NewResultCollector(ctx, stmt.columns)
	require.NoError(t, stmt.fn(ctx, rc, nil))
	assert.Equal(t, "SELECT 2", rc.Tag())
	assert.Len(t, rc.Rows(), 2)
}

func TestPrepareDDLCreateTableIfNotExistsSkipsWhenExists(t *testing.T) {
	backend := &stubBackend{rows: []BackendRow{{"1"}}}
	ctx := testContext(t, backend)

	ddlStmt := prepareDDL("CREATE TABLE IF NOT EXISTS accounts (id bigint)")
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, ddlStmt.fn(ctx, rc, nil))

	assert.Equal(t, "CREATE", rc.Tag())
	assert.Empty(t, backend.executed, "existing table must not be re-created")
}

func TestPrepareDDLCreateTableIfNotExistsRunsWhenMissing(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	ddlStmt := prepareDDL("CREATE TABLE IF NOT EXISTS accounts (id bigint)")
	rc := NewResultCollector(ctx, nil)
	require.NoError(t, ddlStmt.fn(ctx, rc, nil))

	assert.Equal(t, "CREATE", rc.Tag())
	require.Len(t, backend.executed, 1)
	assert.Equal(t, "CREATE TABLE accounts (id bigint)", backend.executed[0])
}

func TestPrepareDDLRejectsTempTable(t *testing.T) {
	backend := &stubBackend{}
	ctx := testContext(t, backend)

	ddlStmt := prepareDDL("CREATE TEMPORARY TABLE scratch (id bigint)")
	err := ddlStmt.fn(ctx, NewResultCollector(ctx, nil), nil)
	require.Error(t, err)
}
