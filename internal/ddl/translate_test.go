package ddl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateCreateTableIfNotExists(t *testing.T) {
	translation, err := Translate("CREATE TABLE IF NOT EXISTS accounts (id bigint PRIMARY KEY)")
	require.NoError(t, err)

	assert.True(t, translation.NeedsExistenceCheck)
	assert.False(t, translation.WantExists)
	assert.Equal(t, "accounts", translation.ObjectName)
	assert.Equal(t, "CREATE TABLE accounts (id bigint PRIMARY KEY)", translation.SQL)
}

func TestTranslateDropTableIfExists(t *testing.T) {
	translation, err := Translate("DROP TABLE IF EXISTS accounts")
	require.NoError(t, err)

	assert.True(t, translation.NeedsExistenceCheck)
	assert.True(t, translation.WantExists)
	assert.Equal(t, "accounts", translation.ObjectName)
	assert.Equal(t, "DROP TABLE accounts", translation.SQL)
}

func TestTranslateCreateIndexIfNotExists(t *testing.T) {
	translation, err := Translate("CREATE UNIQUE INDEX IF NOT EXISTS idx_email ON accounts (email)")
	require.NoError(t, err)

	assert.True(t, translation.NeedsExistenceCheck)
	assert.False(t, translation.WantExists)
	assert.Equal(t, "idx_email", translation.ObjectName)
}

func TestTranslateStripsNamedPrimaryKey(t *testing.T) {
	translation, err := Translate("CREATE TABLE accounts (id bigint, CONSTRAINT pk_accounts PRIMARY KEY (id))")
	require.NoError(t, err)

	assert.False(t, translation.NeedsExistenceCheck)
	assert.Equal(t, "CREATE TABLE accounts (id bigint, PRIMARY KEY (id))", translation.SQL)
}

func TestTranslateRejectsTempTable(t *testing.T) {
	_, err := Translate("CREATE TEMPORARY TABLE scratch (id bigint)")

	var rejected *Rejected
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "temporary")
}

func TestTranslateRejectsInherits(t *testing.T) {
	_, err := Translate("CREATE TABLE children (id bigint) INHERITS (parents)")

	var rejected *Rejected
	require.True(t, errors.As(err, &rejected))
}

func TestTranslateRejectsOnConflict(t *testing.T) {
	_, err := Translate("INSERT INTO accounts (id) VALUES (1) ON CONFLICT DO NOTHING")

	var rejected *Rejected
	require.True(t, errors.As(err, &rejected))
}

func TestTranslatePassesThroughPlainStatement(t *testing.T) {
	translation, err := Translate("ALTER TABLE accounts ADD COLUMN balance bigint")
	require.NoError(t, err)

	assert.False(t, translation.NeedsExistenceCheck)
	assert.Equal(t, "ALTER TABLE accounts ADD COLUMN balance bigint", translation.SQL)
}

func TestIsDDL(t *testing.T) {
	assert.True(t, IsDDL("CREATE TABLE accounts (id bigint)"))
	assert.True(t, IsDDL("  drop table accounts"))
	assert.True(t, IsDDL("ALTER TABLE accounts ADD COLUMN x bigint"))
	assert.False(t, IsDDL("SELECT 1"))
	assert.False(t, IsDDL("INSERT INTO accounts (id) VALUES (1)"))
}
