package pgadapter

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lib/pq/oid"

	"github.com/cloudspannerecosystem/pgadapter-go/codes"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/ddl"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/session"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/sqlparse"
	psqlerr "github.com/cloudspannerecosystem/pgadapter-go/errors"
)

// NewSpannerParseFn returns the ParseFn that drives PGAdapter's own
// behavior: every statement is classified, schema-modifying statements run
// through the DDL translator, and DML/queries are executed against backend.
// This is the ParseFn NewServer is configured with by cmd/pgadapter; library
// embedders may substitute their own.
func NewSpannerParseFn(backend Backend) ParseFn {
	return func(ctx context.Context, query string) (PreparedStatements, error) {
		raw := sqlparse.SplitStatements(query)
		statements := make(PreparedStatements, 0, len(raw))

		for _, stmt := range raw {
			prepared, err := prepareStatement(ctx, backend, stmt)
			if err != nil {
				return nil, err
			}
			statements = append(statements, prepared)
		}

		return statements, nil
	}
}

func prepareStatement(ctx context.Context, backend Backend, stmt string) (*PreparedStatement, error) {
	switch sqlparse.Classify(stmt) {
	case sqlparse.KindSelect:
		return prepareQuery(ctx, backend, stmt)
	case sqlparse.KindInsert, sqlparse.KindUpdate, sqlparse.KindDelete:
		return prepareDML(stmt), nil
	case sqlparse.KindDDL:
		return prepareDDL(stmt), nil
	case sqlparse.KindBegin:
		return prepareBegin(), nil
	case sqlparse.KindCommit:
		return prepareCommit(), nil
	case sqlparse.KindRollback:
		return prepareRollback(), nil
	case sqlparse.KindSet:
		return prepareSet(stmt), nil
	case sqlparse.KindShow:
		return prepareShow(stmt), nil
	case sqlparse.KindReset:
		return prepareReset(stmt), nil
	case sqlparse.KindCopy:
		return prepareCopy(stmt), nil
	default:
		return nil, NewErrUndefinedStatement()
	}
}

func prepareQuery(ctx context.Context, backend Backend, stmt string) (*PreparedStatement, error) {
	var columns Columns
	if backend != nil {
		meta, err := backend.Describe(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("describing query: %w", err)
		}
		columns = columnsFromMeta(meta)
	}

	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		b := backendOrContext(ctx, backend)
		tx := currentTx(ctx)

		var n uint64
		err := b.Query(ctx, tx, stmt, parameterValues(parameters), func(row BackendRow) error {
			n++
			return writer.Row(row)
		})
		if err != nil {
			markErrorSticky(ctx)
			return err
		}

		return writer.Complete(fmt.Sprintf("SELECT %d", n))
	}

	return NewPreparedStatement(stmt, nil, columns, fn), nil
}

func prepareDML(stmt string) *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		b := backendOrContext(ctx, nil)
		tx := currentTx(ctx)

		result, err := b.Execute(ctx, tx, stmt, parameterValues(parameters))
		if err != nil {
			markErrorSticky(ctx)
			return err
		}

		tag := result.Tag
		if tag == "" {
			tag = dmlTag(stmt, result.RowsAffected)
		}
		return writer.Complete(tag)
	}

	return NewPreparedStatement(stmt, nil, nil, fn)
}

// dmlTag formats the PostgreSQL CommandComplete tag for INSERT/UPDATE/DELETE.
// INSERT carries an extra leading OID field, always 0 since Spanner has no
// concept of row OIDs.
func dmlTag(stmt string, rowsAffected int64) string {
	switch sqlparse.Classify(stmt) {
	case sqlparse.KindInsert:
		return fmt.Sprintf("INSERT 0 %d", rowsAffected)
	case sqlparse.KindUpdate:
		return fmt.Sprintf("UPDATE %d", rowsAffected)
	case sqlparse.KindDelete:
		return fmt.Sprintf("DELETE %d", rowsAffected)
	default:
		return fmt.Sprintf("OK %d", rowsAffected)
	}
}

func prepareDDL(stmt string) *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		b := backendOrContext(ctx, nil)

		translation, err := ddl.Translate(stmt)
		if err != nil {
			var rejected *ddl.Rejected
			if errors.As(err, &rejected) {
				return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.FeatureNotSupported), psqlerr.LevelError)
			}
			return err
		}

		if translation.NeedsExistenceCheck {
			exists, err := objectExists(ctx, b, translation.ObjectName)
			if err != nil {
				return err
			}
			if exists != translation.WantExists {
				// IF NOT EXISTS and it already exists, or IF EXISTS and it's
				// already gone: treat as a successful no-op, matching
				// PostgreSQL's own behavior for these clauses.
				return writer.Complete(ddlTag(stmt))
			}
		}

		// DDL commits autonomously on Spanner regardless of the client's
		// current transaction state.
		if _, err := b.Execute(ctx, nil, translation.SQL, nil); err != nil {
			return err
		}

		return writer.Complete(ddlTag(stmt))
	}

	return NewPreparedStatement(stmt, nil, nil, fn)
}

func ddlTag(stmt string) string {
	word := strings.ToUpper(strings.Fields(stmt)[0])
	return word
}

// objectExists is a conservative existence check: it queries
// information_schema.tables, which Spanner's PostgreSQL dialect exposes like
// a regular PostgreSQL server.
func objectExists(ctx context.Context, b Backend, name string) (bool, error) {
	if name == "" {
		return false, nil
	}

	found := false
	q := "SELECT 1 FROM information_schema.tables WHERE table_name = $1"
	err := b.Query(ctx, nil, q, []any{strings.Trim(name, `"`)}, func(BackendRow) error {
		found = true
		return nil
	})
	return found, err
}

func prepareBegin() *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		holder := txHolderFromContext(ctx)
		if holder == nil {
			return fmt.Errorf("no transaction slot bound to this connection")
		}
		if holder.get() != nil {
			return writer.Complete("BEGIN")
		}

		b := backendOrContext(ctx, nil)
		tx, err := b.BeginTx(ctx)
		if err != nil {
			return err
		}
		holder.set(tx)

		if s := SessionFromContext(ctx); s != nil {
			s.BeginTx()
		}

		return writer.Complete("BEGIN")
	}

	return NewPreparedStatement("BEGIN", nil, nil, fn)
}

func prepareCommit() *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		holder := txHolderFromContext(ctx)
		tx := holder.get()
		if tx == nil {
			return writer.Complete("COMMIT")
		}

		b := backendOrContext(ctx, nil)
		err := b.Commit(ctx, tx)
		holder.set(nil)
		if s := SessionFromContext(ctx); s != nil {
			s.EndTx()
		}
		if err != nil {
			return err
		}

		return writer.Complete("COMMIT")
	}

	return NewPreparedStatement("COMMIT", nil, nil, fn)
}

func prepareRollback() *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		holder := txHolderFromContext(ctx)
		tx := holder.get()
		holder.set(nil)
		if s := SessionFromContext(ctx); s != nil {
			s.EndTx()
		}
		if tx == nil {
			return writer.Complete("ROLLBACK")
		}

		b := backendOrContext(ctx, nil)
		if err := b.Rollback(ctx, tx); err != nil {
			return err
		}
		return writer.Complete("ROLLBACK")
	}

	return NewPreparedStatement("ROLLBACK", nil, nil, fn)
}

func prepareSet(stmt string) *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		s := SessionFromContext(ctx)
		if s == nil {
			return writer.Complete("SET")
		}

		name, value, scope, err := parseSet(stmt)
		if err != nil {
			return err
		}

		if session.IsVendorSetting(name) && strings.EqualFold(name, "spanner.autocommit_dml_mode") {
			if err := session.ValidateAutocommitDMLMode(value); err != nil {
				return err
			}
		}

		if err := s.Set(name, value, scope); err != nil {
			return err
		}

		return writer.Complete("SET")
	}

	return NewPreparedStatement(stmt, nil, nil, fn)
}

func prepareReset(stmt string) *PreparedStatement {
	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		s := SessionFromContext(ctx)
		if s == nil {
			return writer.Complete("RESET")
		}

		fields := strings.Fields(stmt)
		if len(fields) < 2 {
			return fmt.Errorf("RESET requires a setting name")
		}

		if err := s.Reset(fields[1]); err != nil {
			return err
		}
		return writer.Complete("RESET")
	}

	return NewPreparedStatement(stmt, nil, nil, fn)
}

func prepareShow(stmt string) *PreparedStatement {
	columns := Columns{{Name: "setting", Oid: oid.T_text}}

	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		s := SessionFromContext(ctx)

		fields := strings.Fields(stmt)
		if len(fields) < 2 {
			return fmt.Errorf("SHOW requires a setting name")
		}
		name := strings.TrimSuffix(fields[1], ";")

		var value string
		if s != nil {
			value, _ = s.Get(name)
		}

		if err := writer.Row([]any{session.FormatShow(name, value)}); err != nil {
			return err
		}
		return writer.Complete("SHOW")
	}

	return NewPreparedStatement(stmt, nil, columns, fn)
}

// copyBatchRows is the number of buffered COPY rows committed at a time under
// spanner.autocommit_dml_mode=partitioned_non_atomic, matching the default
// config.MaxBufferedRows batching threshold used elsewhere.
const copyBatchRows = 1000

func prepareCopy(stmt string) *PreparedStatement {
	table := sqlparse.TableName(stmt)

	fn := func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		reader := CopyReaderFromContext(ctx)
		if reader == nil {
			return fmt.Errorf("COPY is only supported through the extended query protocol's portal execution")
		}

		columns := reader.Columns()
		columnNames := make([]string, len(columns))
		for i, c := range columns {
			columnNames[i] = c.Name
		}

		rows, err := newCopyRowReader(ctx, reader)
		if err != nil {
			return err
		}

		partitioned := false
		if s := SessionFromContext(ctx); s != nil {
			if mode, ok := s.Get("spanner.autocommit_dml_mode"); ok {
				partitioned = strings.EqualFold(mode, "partitioned_non_atomic")
			}
		}

		b := backendOrContext(ctx, nil)
		tx, err := b.BeginTx(ctx)
		if err != nil {
			return err
		}

		var total, sinceCommit int64
		for {
			row, err := rows.next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = b.Rollback(ctx, tx)
				return err
			}

			if err := b.BufferMutation(ctx, tx, Mutation{Table: table, Columns: columnNames, Values: row, Op: MutationInsert}); err != nil {
				_ = b.Rollback(ctx, tx)
				return err
			}

			n, err := b.FlushMutations(ctx, tx)
			if err != nil {
				_ = b.Rollback(ctx, tx)
				return err
			}
			total += n
			sinceCommit += n

			// Under partitioned-non-atomic mode each batch commits on its own,
			// so a failure partway through only loses the rows still
			// in-flight rather than rolling back everything already applied.
			if partitioned && sinceCommit >= copyBatchRows {
				if err := b.Commit(ctx, tx); err != nil {
					return err
				}
				if tx, err = b.BeginTx(ctx); err != nil {
					return err
				}
				sinceCommit = 0
			}
		}

		if err := b.Commit(ctx, tx); err != nil {
			return err
		}

		return writer.Complete(fmt.Sprintf("COPY %d", total))
	}

	return NewPreparedStatement(stmt, nil, nil, fn)
}

// copyRowReader hides the binary/text split behind a single next() method,
// deciding the format once up front from the first chunk on the wire.
type copyRowReader struct {
	binary *BinaryCopyReader
	text   *TextCopyReader
}

func (r *copyRowReader) next(ctx context.Context) ([]any, error) {
	if r.binary != nil {
		return r.binary.Read(ctx)
	}
	return r.text.Read(ctx)
}

// newCopyRowReader reads the first CopyData chunk to detect the PGCOPY
// binary signature, then builds the matching row reader around it without
// losing any already-read bytes.
func newCopyRowReader(ctx context.Context, reader *CopyReader) (*copyRowReader, error) {
	if err := reader.Read(ctx); err != nil {
		return nil, err
	}

	if bytes.HasPrefix(reader.Msg, CopySignature) {
		br, err := NewBinaryColumnReader(ctx, reader)
		if err != nil {
			return nil, err
		}
		return &copyRowReader{binary: br}, nil
	}

	buf := bytes.NewBuffer(append([]byte(nil), reader.Msg...))
	reader.Msg = reader.Msg[:0]

	tr, err := NewTextColumnReader(ctx, reader, csv.NewReader(buf), buf, "")
	if err != nil {
		return nil, err
	}
	return &copyRowReader{text: tr}, nil
}

func backendOrContext(ctx context.Context, fallback Backend) Backend {
	if b := BackendFromContext(ctx); b != nil {
		return b
	}
	return fallback
}

func currentTx(ctx context.Context) *BackendTx {
	holder := txHolderFromContext(ctx)
	if holder == nil {
		return nil
	}
	return holder.get()
}

func markErrorSticky(ctx context.Context) {
	if tx := currentTx(ctx); tx != nil {
		tx.MarkErrorSticky()
	}
}

func parameterValues(parameters []Parameter) []any {
	values := make([]any, len(parameters))
	for i, p := range parameters {
		values[i] = string(p.Value())
	}
	return values
}

func columnsFromMeta(meta []ColumnMeta) Columns {
	columns := make(Columns, len(meta))
	for i, m := range meta {
		columns[i] = Column{Name: m.Name, Oid: m.Oid, AttrNo: int16(i + 1)}
	}
	return columns
}

// parseSet extracts name/value/scope from a SET statement. It understands
// "SET [SESSION|LOCAL] name = value" and "SET [SESSION|LOCAL] name TO value".
func parseSet(stmt string) (name, value string, scope session.Scope, err error) {
	fields := strings.Fields(stmt)
	if len(fields) < 2 {
		return "", "", session.ScopeSession, fmt.Errorf("malformed SET statement")
	}

	idx := 1
	scope = session.ScopeSession
	switch strings.ToUpper(fields[idx]) {
	case "SESSION":
		idx++
	case "LOCAL":
		scope = session.ScopeLocal
		idx++
	}

	if idx >= len(fields) {
		return "", "", scope, fmt.Errorf("malformed SET statement")
	}
	name = fields[idx]
	idx++

	if idx < len(fields) && (strings.EqualFold(fields[idx], "TO") || fields[idx] == "=") {
		idx++
	}

	value = strings.TrimSuffix(strings.Join(fields[idx:], " "), ";")
	value = strings.Trim(value, "'\"")
	return name, value, scope, nil
}
