package pgadapter

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cloudspannerecosystem/pgadapter-go/internal/session"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/values"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/buffer"
)

type ctxKey int

const (
	ctxTypeInfo ctxKey = iota
	ctxClientMetadata
	ctxServerMetadata
	ctxConnectionID
	ctxBackend
	ctxValues
	ctxCopyReader
	ctxTxHolder
	ctxSession
	ctxSkipHolder
	ctxResponseQueue
)

// setValuesRegistry attaches the parameter/result codec registry to ctx.
func setValuesRegistry(ctx context.Context, registry *values.Registry) context.Context {
	return context.WithValue(ctx, ctxValues, registry)
}

// valuesRegistry returns the codec registry bound to ctx, constructing a
// fresh default one if none has been set (e.g. in unit tests that exercise
// Column.Write directly).
func valuesRegistry(ctx context.Context) *values.Registry {
	val := ctx.Value(ctxValues)
	if val == nil {
		return values.NewRegistry()
	}
	return val.(*values.Registry)
}

// setTypeMap constructs a new Postgres type connection info for the given value
func setTypeMap(ctx context.Context, info *pgtype.Map) context.Context {
	return context.WithValue(ctx, ctxTypeInfo, info)
}

// TypeMap returns the Postgres type connection info if it has been set inside
// the given context.
func TypeMap(ctx context.Context) *pgtype.Map {
	val := ctx.Value(ctxTypeInfo)
	if val == nil {
		return nil
	}

	return val.(*pgtype.Map)
}

// setConnectionID attaches the per-connection identifier used for BackendKeyData
// and CancelRequest routing.
func setConnectionID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ctxConnectionID, id)
}

// ConnectionID returns the connection identifier assigned during the handshake,
// or 0 if none has been set.
func ConnectionID(ctx context.Context) uint32 {
	val := ctx.Value(ctxConnectionID)
	if val == nil {
		return 0
	}

	return val.(uint32)
}

// setBackend attaches the Spanner-backed query backend to the context so that
// command handlers can reach it without threading it through every call.
func setBackend(ctx context.Context, backend Backend) context.Context {
	return context.WithValue(ctx, ctxBackend, backend)
}

// BackendFromContext returns the Backend bound to this connection's context.
func BackendFromContext(ctx context.Context) Backend {
	val := ctx.Value(ctxBackend)
	if val == nil {
		return nil
	}

	return val.(Backend)
}

// setCopyReader attaches the raw protocol reader/writer and the column
// layout of the COPY target, so a PreparedStatementFn executing a COPY FROM
// STDIN statement can construct a CopyReader when it runs.
func setCopyReader(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer, columns Columns) context.Context {
	return context.WithValue(ctx, ctxCopyReader, NewCopyReader(reader, writer, columns))
}

// CopyReaderFromContext returns the CopyReader bound to ctx by a COPY FROM
// STDIN portal execution, or nil outside of that flow.
func CopyReaderFromContext(ctx context.Context) *CopyReader {
	val := ctx.Value(ctxCopyReader)
	if val == nil {
		return nil
	}
	return val.(*CopyReader)
}

// setSession attaches the per-connection GUC store to ctx.
func setSession(ctx context.Context, store *session.Store) context.Context {
	return context.WithValue(ctx, ctxSession, store)
}

// SessionFromContext returns the GUC store bound to ctx, or nil if the
// connection has not been set up with one (e.g. a bare library usage).
func SessionFromContext(ctx context.Context) *session.Store {
	val := ctx.Value(ctxSession)
	if val == nil {
		return nil
	}
	return val.(*session.Store)
}

// Parameters represents a parameters collection of parameter status keys and
// their values
type Parameters map[ParameterStatus]string

// ParameterStatus represents a metadata key that could be defined inside a server/client
// metadata definition
type ParameterStatus string

// At present there is a hard-wired set of parameters for which ParameterStatus
// will be generated.
// https://www.postgresql.org/docs/13/protocol-flow.html#PROTOCOL-ASYNC
const (
	ParamServerEncoding       ParameterStatus = "server_encoding"
	ParamClientEncoding       ParameterStatus = "client_encoding"
	ParamIsSuperuser          ParameterStatus = "is_superuser"
	ParamSessionAuthorization ParameterStatus = "session_authorization"
	ParamApplicationName      ParameterStatus = "application_name"
	ParamDatabase             ParameterStatus = "database"
	ParamUsername             ParameterStatus = "user"
	ParamServerVersion        ParameterStatus = "server_version"
)

// setClientParameters constructs a new context containing the given parameters.
// Any previously defined metadata will be overriden.
func setClientParameters(ctx context.Context, params Parameters) context.Context {
	if params == nil {
		return ctx
	}

	return context.WithValue(ctx, ctxClientMetadata, params)
}

// ClientParameters returns the connection parameters if it has been set inside
// the given context.
func ClientParameters(ctx context.Context) Parameters {
	val := ctx.Value(ctxClientMetadata)
	if val == nil {
		return nil
	}

	return val.(Parameters)
}

// setServerParameters constructs a new context containing the given parameters map.
// Any previously defined metadata will be overriden.
func setServerParameters(ctx context.Context, params Parameters) context.Context {
	if params == nil {
		return ctx
	}

	return context.WithValue(ctx, ctxServerMetadata, params)
}

// ServerParameters returns the connection parameters if it has been set inside
// the given context.
func ServerParameters(ctx context.Context) Parameters {
	val := ctx.Value(ctxServerMetadata)
	if val == nil {
		return nil
	}

	return val.(Parameters)
}
