package pgadapter

import (
	"context"
	"sync"

	"github.com/cloudspannerecosystem/pgadapter-go/pkg/buffer"
	"github.com/lib/pq/oid"
)

// PreparedStatementFn executes a bound statement, writing its result rows
// (or a command-complete tag, for DML) to writer. parameters holds the
// decoded Bind parameter values in positional order.
type PreparedStatementFn func(ctx context.Context, writer DataWriter, parameters []Parameter) error

// PreparedStatement is the result of parsing a single SQL statement: its
// declared parameter types, its result columns (possibly empty, for DDL/DML
// without RETURNING) and the function that executes it against the Backend.
type PreparedStatement struct {
	query      string
	parameters []oid.Oid
	columns    Columns
	fn         PreparedStatementFn
}

// NewPreparedStatement constructs a PreparedStatement from its component
// parts, for use by ParseFn implementations.
func NewPreparedStatement(query string, parameters []oid.Oid, columns Columns, fn PreparedStatementFn) *PreparedStatement {
	return &PreparedStatement{query: query, parameters: parameters, columns: columns, fn: fn}
}

// PreparedStatements is the (possibly multi-statement) result of parsing one
// client query string.
type PreparedStatements []*PreparedStatement

// Portal binds a PreparedStatement to a concrete set of parameter values and
// result column formats, as established by the Bind message.
type Portal struct {
	statement     *PreparedStatement
	statementName string
	parameters    []Parameter
	formats       []FormatCode
}

// StatementCache stores named prepared statements for the lifetime of a
// connection (the unnamed statement included, under the empty-string key).
type StatementCache interface {
	Set(ctx context.Context, name string, statement *PreparedStatement) error
	Get(ctx context.Context, name string) (*PreparedStatement, error)

	// Close removes the named prepared statement, per the Close message
	// contract. Closing an unknown name is not an error.
	// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-FLOW-EXT-QUERY
	Close(ctx context.Context, name string) error
}

// PortalCache stores bound portals and executes them.
type PortalCache interface {
	Bind(ctx context.Context, name string, statementName string, statement *PreparedStatement, parameters []Parameter, formats []FormatCode) error
	Get(ctx context.Context, name string) (*Portal, error)
	Execute(ctx context.Context, name string, out DataWriter) error

	// Close removes the named portal. Closing an unknown name is not an error.
	Close(ctx context.Context, name string) error

	// InvalidateStatement drops every portal currently bound to the named
	// prepared statement. The protocol requires closing a statement to
	// invalidate the portals derived from it.
	// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-FLOW-EXT-QUERY
	InvalidateStatement(ctx context.Context, statementName string) error
}

// PortalCacheCopyIn is implemented by a PortalCache whose bound statement can
// drive a COPY FROM STDIN operation; DefaultPortalCache implements it.
type PortalCacheCopyIn interface {
	ExecuteCopyIn(ctx context.Context, name string, reader *buffer.Reader, protoWriter *buffer.Writer, out DataWriter) error
}

// DefaultStatementCache is a simple in-memory, mutex-guarded StatementCache.
type DefaultStatementCache struct {
	mu         sync.RWMutex
	statements map[string]*PreparedStatement
}

func (cache *DefaultStatementCache) Set(ctx context.Context, name string, statement *PreparedStatement) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.statements == nil {
		cache.statements = map[string]*PreparedStatement{}
	}

	cache.statements[name] = statement
	return nil
}

func (cache *DefaultStatementCache) Get(ctx context.Context, name string) (*PreparedStatement, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	return cache.statements[name], nil
}

func (cache *DefaultStatementCache) Close(ctx context.Context, name string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	delete(cache.statements, name)
	return nil
}

// DefaultPortalCache is a simple in-memory, mutex-guarded PortalCache.
type DefaultPortalCache struct {
	mu      sync.RWMutex
	portals map[string]*Portal
}

func (cache *DefaultPortalCache) Bind(ctx context.Context, name string, statementName string, statement *PreparedStatement, parameters []Parameter, formats []FormatCode) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.portals == nil {
		cache.portals = map[string]*Portal{}
	}

	cache.portals[name] = &Portal{statement: statement, statementName: statementName, parameters: parameters, formats: formats}
	return nil
}

func (cache *DefaultPortalCache) Get(ctx context.Context, name string) (*Portal, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	return cache.portals[name], nil
}

func (cache *DefaultPortalCache) Close(ctx context.Context, name string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	delete(cache.portals, name)
	return nil
}

func (cache *DefaultPortalCache) InvalidateStatement(ctx context.Context, statementName string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	for name, portal := range cache.portals {
		if portal.statementName == statementName {
			delete(cache.portals, name)
		}
	}
	return nil
}

// Execute runs the named portal's statement against out, which may be the
// real wire DataWriter or a QueuedDataWriter buffering the result for replay
// at Sync/Flush.
func (cache *DefaultPortalCache) Execute(ctx context.Context, name string, out DataWriter) error {
	portal, err := cache.Get(ctx, name)
	if err != nil {
		return err
	}
	if portal == nil || portal.statement == nil {
		return NewErrUnkownStatement(name)
	}

	return portal.statement.fn(ctx, out, portal.parameters)
}

// ExecuteCopyIn executes a bound COPY FROM STDIN statement, feeding it rows
// decoded from the client's CopyData stream via reader. protoWriter is the
// real wire writer, used only for the raw CopyReader's own error reporting;
// out receives the statement's Row/Complete calls and may be a
// QueuedDataWriter buffering the result for replay at Sync/Flush.
func (cache *DefaultPortalCache) ExecuteCopyIn(ctx context.Context, name string, reader *buffer.Reader, protoWriter *buffer.Writer, out DataWriter) error {
	portal, err := cache.Get(ctx, name)
	if err != nil {
		return err
	}
	if portal == nil || portal.statement == nil {
		return NewErrUnkownStatement(name)
	}

	ctx = setCopyReader(ctx, reader, protoWriter, portal.statement.columns)
	return portal.statement.fn(ctx, out, portal.parameters)
}
