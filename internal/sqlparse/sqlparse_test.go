package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"SELECT 1":                         KindSelect,
		"with cte as (select 1) select *":  KindSelect,
		"INSERT INTO t (a) VALUES (1)":     KindInsert,
		"UPDATE t SET a = 1":               KindUpdate,
		"DELETE FROM t":                    KindDelete,
		"CREATE TABLE t (a bigint)":        KindDDL,
		"DROP TABLE t":                     KindDDL,
		"ALTER TABLE t ADD COLUMN a bigint": KindDDL,
		"BEGIN":                            KindBegin,
		"START TRANSACTION":                KindBegin,
		"COMMIT":                           KindCommit,
		"END":                              KindCommit,
		"ROLLBACK":                         KindRollback,
		"SET application_name = 'x'":       KindSet,
		"SHOW application_name":            KindShow,
		"RESET application_name":           KindReset,
		"COPY t FROM STDIN":                KindCopy,
		"VACUUM":                           KindUnknown,
	}

	for stmt, want := range cases {
		assert.Equal(t, want, Classify(stmt), "stmt=%q", stmt)
	}
}

func TestSplitStatementsHonorsQuotedSemicolons(t *testing.T) {
	query := `INSERT INTO t (a) VALUES ('a;b'); SELECT 1; `
	stmts := SplitStatements(query)

	assert.Equal(t, []string{
		`INSERT INTO t (a) VALUES ('a;b')`,
		`SELECT 1`,
	}, stmts)
}

func TestSplitStatementsHonorsDollarQuoting(t *testing.T) {
	query := `CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql; SELECT 2;`
	stmts := SplitStatements(query)

	assert.Equal(t, []string{
		`CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql`,
		`SELECT 2`,
	}, stmts)
}

func TestSplitStatementsDropsEmptyStatements(t *testing.T) {
	assert.Empty(t, SplitStatements("   ;  ; "))
	assert.Equal(t, []string{"SELECT 1"}, SplitStatements(";SELECT 1;;"))
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "accounts", TableName(`INSERT INTO accounts (id) VALUES (1)`))
	assert.Equal(t, "accounts", TableName(`UPDATE accounts SET balance = 1`))
	assert.Equal(t, "accounts", TableName(`DELETE FROM accounts WHERE id = 1`))
	assert.Equal(t, "accounts", TableName(`COPY accounts (id) FROM STDIN`))
	assert.Equal(t, "", TableName(`SELECT 1`))
}
