// Package ddl rewrites a restricted set of PostgreSQL DDL statements into the
// form Cloud Spanner's PostgreSQL dialect accepts: existence checks replace
// IF [NOT] EXISTS clauses Spanner does not support, and named PRIMARY KEY
// constraints are stripped to the inline form Spanner requires.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// Rejected is returned for DDL constructs Spanner has no equivalent for.
// Callers surface it as SQLSTATE 0A000, feature_not_supported.
type Rejected struct {
	Reason string
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("unsupported DDL construct: %s", e.Reason)
}

var (
	createTableIfNotExists = regexp.MustCompile(`(?i)^(CREATE\s+TABLE)\s+IF\s+NOT\s+EXISTS\s+`)
	dropTableIfExists      = regexp.MustCompile(`(?i)^(DROP\s+TABLE)\s+IF\s+EXISTS\s+`)
	createIndexIfNotExists = regexp.MustCompile(`(?i)^(CREATE\s+(?:UNIQUE\s+)?INDEX)\s+IF\s+NOT\s+EXISTS\s+`)
	dropIndexIfExists      = regexp.MustCompile(`(?i)^(DROP\s+INDEX)\s+IF\s+EXISTS\s+`)
	namedPrimaryKey        = regexp.MustCompile(`(?i)CONSTRAINT\s+"?(\w+)"?\s+(PRIMARY\s+KEY\s*\()`)
	createTableName        = regexp.MustCompile(`(?i)^CREATE\s+TABLE\s+"?(\w+)"?`)
	inheritsClause         = regexp.MustCompile(`(?i)\bINHERITS\s*\([^)]*\)`)
	tempTable              = regexp.MustCompile(`(?i)^CREATE\s+(?:GLOBAL\s+|LOCAL\s+)?(?:TEMP|TEMPORARY)\s+TABLE\b`)
	onConflict             = regexp.MustCompile(`(?i)\bON\s+CONFLICT\b`)
)

// Translation is the result of rewriting a DDL statement for Spanner.
type Translation struct {
	// SQL is the rewritten statement to send to the backend. Translate never
	// leaves it empty; when NeedsExistenceCheck is set, the caller decides
	// from the existence check whether to send it at all.
	SQL string
	// NeedsExistenceCheck is set when the original clause was IF [NOT]
	// EXISTS; the caller is responsible for running the corresponding
	// information_schema lookup and skipping SQL if the check fails.
	NeedsExistenceCheck bool
	// WantExists is true for "IF EXISTS" (skip if missing) and false for
	// "IF NOT EXISTS" (skip if present).
	WantExists bool
	// ObjectName is the table or index name the existence check applies to.
	ObjectName string
}

// Translate rewrites a single DDL statement. stmt must already be a single
// statement (see sqlparse.SplitStatements); non-DDL statements are returned
// unchanged with NeedsExistenceCheck false.
func Translate(stmt string) (Translation, error) {
	trimmed := strings.TrimSpace(stmt)

	if tempTable.MatchString(trimmed) {
		return Translation{}, &Rejected{Reason: "temporary tables are not supported by Cloud Spanner"}
	}
	if inheritsClause.MatchString(trimmed) {
		return Translation{}, &Rejected{Reason: "table inheritance (INHERITS) is not supported by Cloud Spanner"}
	}
	if onConflict.MatchString(trimmed) {
		return Translation{}, &Rejected{Reason: "ON CONFLICT is not supported by Cloud Spanner; use INSERT OR UPDATE via COPY instead"}
	}

	if m := createTableIfNotExists.FindStringSubmatchIndex(trimmed); m != nil {
		rest := trimmed[m[1]:]
		name := firstIdentifier(rest)
		rewritten := trimmed[:m[3]] + " " + rest
		return Translation{
			SQL:                 stripNamedPrimaryKey(rewritten),
			NeedsExistenceCheck: true,
			WantExists:          false,
			ObjectName:          name,
		}, nil
	}

	if m := dropTableIfExists.FindStringSubmatchIndex(trimmed); m != nil {
		rest := trimmed[m[1]:]
		name := firstIdentifier(rest)
		return Translation{
			SQL:                 trimmed[:m[3]] + " " + rest,
			NeedsExistenceCheck: true,
			WantExists:          true,
			ObjectName:          name,
		}, nil
	}

	if m := createIndexIfNotExists.FindStringSubmatchIndex(trimmed); m != nil {
		rest := trimmed[m[1]:]
		name := firstIdentifier(rest)
		return Translation{
			SQL:                 trimmed[:m[3]] + " " + rest,
			NeedsExistenceCheck: true,
			WantExists:          false,
			ObjectName:          name,
		}, nil
	}

	if m := dropIndexIfExists.FindStringSubmatchIndex(trimmed); m != nil {
		rest := trimmed[m[1]:]
		name := firstIdentifier(rest)
		return Translation{
			SQL:                 trimmed[:m[3]] + " " + rest,
			NeedsExistenceCheck: true,
			WantExists:          true,
			ObjectName:          name,
		}, nil
	}

	return Translation{SQL: stripNamedPrimaryKey(trimmed)}, nil
}

// stripNamedPrimaryKey rewrites a "CONSTRAINT pk_foo PRIMARY KEY (id)" table
// constraint of "CREATE TABLE foo" to the bare "PRIMARY KEY (id)" form
// Spanner's PostgreSQL dialect accepts; Spanner derives the constraint name
// itself. Only a constraint named exactly pk_<table> is stripped; any other
// name is left unchanged.
func stripNamedPrimaryKey(sql string) string {
	table := createTableName.FindStringSubmatch(sql)
	if table == nil {
		return sql
	}
	return namedPrimaryKey.ReplaceAllStringFunc(sql, func(clause string) string {
		m := namedPrimaryKey.FindStringSubmatch(clause)
		if m[1] != "pk_"+table[1] {
			return clause
		}
		return m[2]
	})
}

func firstIdentifier(s string) string {
	s = strings.TrimSpace(s)
	end := strings.IndexAny(s, " \t\n(")
	if end == -1 {
		return s
	}
	return s[:end]
}

// IsDDL reports whether stmt looks like a schema-modifying statement, used
// by the extended query handler to decide whether a statement must run
// outside of the client's current read/write transaction (Spanner commits
// DDL autonomously).
func IsDDL(stmt string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(stmt))
	for _, kw := range []string{"CREATE ", "DROP ", "ALTER "} {
		if strings.HasPrefix(trimmed, kw) {
			return true
		}
	}
	return false
}
