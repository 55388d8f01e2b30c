package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq/oid"

	"github.com/cloudspannerecosystem/pgadapter-go"
)

// FakeBackend is an in-memory pgadapter.Backend used by tests that exercise
// the wire protocol layer without a real Spanner instance. Tables are kept
// in a map from table name to its rows; it understands only the small
// subset of SQL the test suite issues.
type FakeBackend struct {
	mu     sync.Mutex
	tables map[string][]pgadapter.BackendRow
	cols   map[string][]string

	// Queries records every statement passed to Query/Execute, in order, for
	// assertions in tests.
	Queries []string
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		tables: make(map[string][]pgadapter.BackendRow),
		cols:   make(map[string][]string),
	}
}

type fakeTx struct {
	mutations []pgadapter.Mutation
	aborted   bool
}

func (b *FakeBackend) BeginTx(ctx context.Context) (*pgadapter.BackendTx, error) {
	tx := &pgadapter.BackendTx{}
	tx.SetHandle(&fakeTx{})
	return tx, nil
}

func (b *FakeBackend) Commit(ctx context.Context, tx *pgadapter.BackendTx) error {
	return nil
}

func (b *FakeBackend) Rollback(ctx context.Context, tx *pgadapter.BackendTx) error {
	return nil
}

// Query only supports "SELECT * FROM <table>", enough to drive extended query
// protocol tests end to end.
func (b *FakeBackend) Query(ctx context.Context, tx *pgadapter.BackendTx, sql string, args []any, fn func(pgadapter.BackendRow) error) error {
	b.mu.Lock()
	b.Queries = append(b.Queries, sql)
	table := b.tableNameFromQuery(sql)
	rows := append([]pgadapter.BackendRow(nil), b.tables[table]...)
	b.mu.Unlock()

	for _, row := range rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Describe returns the column names seeded for the table named in sql; it
// reports every column as text-typed since FakeBackend has no real schema.
func (b *FakeBackend) Describe(ctx context.Context, sql string) ([]pgadapter.ColumnMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table := b.tableNameFromQuery(sql)
	cols := b.cols[table]
	meta := make([]pgadapter.ColumnMeta, len(cols))
	for i, c := range cols {
		meta[i] = pgadapter.ColumnMeta{Name: c, Oid: oid.T_text}
	}
	return meta, nil
}

func (b *FakeBackend) Execute(ctx context.Context, tx *pgadapter.BackendTx, sql string, args []any) (pgadapter.BackendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Queries = append(b.Queries, sql)
	return pgadapter.BackendResult{Tag: "OK", RowsAffected: 0}, nil
}

func (b *FakeBackend) BufferMutation(ctx context.Context, tx *pgadapter.BackendTx, m pgadapter.Mutation) error {
	fTx, ok := tx.Handle().(*fakeTx)
	if !ok {
		return fmt.Errorf("no transaction bound")
	}
	fTx.mutations = append(fTx.mutations, m)
	return nil
}

func (b *FakeBackend) FlushMutations(ctx context.Context, tx *pgadapter.BackendTx) (int64, error) {
	fTx, ok := tx.Handle().(*fakeTx)
	if !ok {
		return 0, fmt.Errorf("no transaction bound")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range fTx.mutations {
		b.cols[m.Table] = m.Columns
		b.tables[m.Table] = append(b.tables[m.Table], pgadapter.BackendRow(m.Values))
	}
	n := int64(len(fTx.mutations))
	fTx.mutations = nil
	return n, nil
}

func (b *FakeBackend) Cancel(ctx context.Context, tx *pgadapter.BackendTx) error {
	if fTx, ok := tx.Handle().(*fakeTx); ok {
		fTx.aborted = true
	}
	return nil
}

func (b *FakeBackend) Close() error { return nil }

// Seed pre-populates a table, for use by test setup code.
func (b *FakeBackend) Seed(table string, columns []string, rows []pgadapter.BackendRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cols[table] = columns
	b.tables[table] = rows
}

func (b *FakeBackend) tableNameFromQuery(sql string) string {
	// Tests seed exact table names and issue "select * from <table>"; a real
	// query planner lives in internal/sqlparse, not here.
	lower := strings.ToLower(sql)
	for table := range b.tables {
		if strings.Contains(lower, strings.ToLower(table)) {
			return table
		}
	}
	return ""
}

var _ pgadapter.Backend = (*FakeBackend)(nil)
