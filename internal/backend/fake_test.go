package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspannerecosystem/pgadapter-go"
)

func TestFakeBackendQuerySeededRows(t *testing.T) {
	b := NewFakeBackend()
	b.Seed("accounts", []string{"id", "name"}, []pgadapter.BackendRow{
		{"1", "alice"},
		{"2", "bob"},
	})

	var got []pgadapter.BackendRow
	err := b.Query(context.Background(), nil, "select * from accounts", nil, func(row pgadapter.BackendRow) error {
		got = append(got, row)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []pgadapter.BackendRow{{"1", "alice"}, {"2", "bob"}}, got)
	assert.Equal(t, []string{"select * from accounts"}, b.Queries)
}

func TestFakeBackendDescribeReportsSeededColumns(t *testing.T) {
	b := NewFakeBackend()
	b.Seed("accounts", []string{"id", "name"}, nil)

	meta, err := b.Describe(context.Background(), "select * from accounts")
	require.NoError(t, err)
	require.Len(t, meta, 2)
	assert.Equal(t, "id", meta[0].Name)
	assert.Equal(t, "name", meta[1].Name)
}

func TestFakeBackendBufferAndFlushMutations(t *testing.T) {
	b := NewFakeBackend()

	tx, err := b.BeginTx(context.Background())
	require.NoError(t, err)

	err = b.BufferMutation(context.Background(), tx, pgadapter.Mutation{
		Table:   "accounts",
		Columns: []string{"id", "name"},
		Values:  []any{"1", "carol"},
		Op:      pgadapter.MutationInsert,
	})
	require.NoError(t, err)

	n, err := b.FlushMutations(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got []pgadapter.BackendRow
	err = b.Query(context.Background(), nil, "select * from accounts", nil, func(row pgadapter.BackendRow) error {
		got = append(got, row)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []pgadapter.BackendRow{{"1", "carol"}}, got)
}

func TestFakeBackendExecuteRecordsQuery(t *testing.T) {
	b := NewFakeBackend()

	result, err := b.Execute(context.Background(), nil, "update accounts set name = 'x'", nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", result.Tag)
	assert.Contains(t, b.Queries, "update accounts set name = 'x'")
}

func TestFakeBackendCancelMarksTxAborted(t *testing.T) {
	b := NewFakeBackend()
	tx, err := b.BeginTx(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Cancel(context.Background(), tx))
	assert.True(t, tx.Handle().(*fakeTx).aborted)
}
