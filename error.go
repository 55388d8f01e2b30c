package pgadapter

import (
	"context"

	"github.com/cloudspannerecosystem/pgadapter-go/codes"
	psqlerr "github.com/cloudspannerecosystem/pgadapter-go/errors"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/buffer"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/types"
)

// errFieldType represents the error fields.
type errFieldType byte

// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
//
//nolint:varcheck,deadcode
const (
	errFieldSeverity       errFieldType = 'S'
	errFieldMsgPrimary     errFieldType = 'M'
	errFieldSQLState       errFieldType = 'C'
	errFieldDetail         errFieldType = 'D'
	errFieldHint           errFieldType = 'H'
	errFieldSrcFile        errFieldType = 'F'
	errFieldSrcLine        errFieldType = 'L'
	errFieldSrcFunction    errFieldType = 'R'
	errFieldConstraintName errFieldType = 'n'
)

// writeErrorResponse writes the ErrorResponse message describing err and
// returns its flattened description so callers can inspect the SQLSTATE
// code, e.g. to suppress ReadyForQuery after an authentication failure.
// https://www.postgresql.org/docs/current/static/protocol-error-fields.html
func writeErrorResponse(writer *buffer.Writer, err error) (psqlerr.Error, error) {
	desc := psqlerr.Flatten(err)

	writer.Start(types.ServerErrorResponse)

	writer.AddByte(byte(errFieldSeverity))
	writer.AddString(string(desc.Severity))
	writer.AddNullTerminate()
	writer.AddByte(byte(errFieldSQLState))
	writer.AddString(string(desc.Code))
	writer.AddNullTerminate()
	writer.AddByte(byte(errFieldMsgPrimary))
	writer.AddString(desc.Message)
	writer.AddNullTerminate()

	if desc.Hint != "" {
		writer.AddByte(byte(errFieldHint))
		writer.AddString(desc.Hint)
		writer.AddNullTerminate()
	}

	if desc.Detail != "" {
		writer.AddByte(byte(errFieldDetail))
		writer.AddString(desc.Detail)
		writer.AddNullTerminate()
	}

	if desc.Source != nil {
		writer.AddByte(byte(errFieldSrcFile))
		writer.AddString(desc.Source.File)
		writer.AddNullTerminate()

		writer.AddByte(byte(errFieldSrcLine))
		writer.AddInt32(desc.Source.Line)
		writer.AddNullTerminate()

		writer.AddByte(byte(errFieldSrcFunction))
		writer.AddString(desc.Source.Function)
		writer.AddNullTerminate()
	}

	writer.AddNullTerminate()
	return desc, writer.End()
}

// ErrorCode writes an error response for a failure that is not part of an
// extended-query Sync window (the simple query protocol, the startup phase,
// or a malformed message the server could not even dispatch) and closes the
// command cycle with a ReadyForQuery message, since there is no Sync to
// resynchronize on outside the extended query protocol. The reported status
// byte reflects the connection's actual transaction state.
// https://www.postgresql.org/docs/current/static/protocol-error-fields.html
func ErrorCode(ctx context.Context, writer *buffer.Writer, err error) error {
	desc, werr := writeErrorResponse(writer, err)
	if werr != nil {
		return werr
	}

	// NOTE: we are writing a ready for query message to indicate the end of a
	// command cycle. However, for authentication failures, we skip this
	// because the connection will be terminated.
	if desc.Code == codes.InvalidPassword {
		return nil
	}

	return readyForQuery(writer, connStatus(ctx))
}

// extErrorCode writes an error response for a failure encountered while
// processing an extended-query message (Parse/Bind/Describe/Execute). Per
// the Sync-window contract no ReadyForQuery is sent here: the connection
// enters skip mode, so every message up to and including the next Sync is
// read and discarded, and exactly one ReadyForQuery is emitted once that
// Sync arrives.
// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-FLOW-EXT-QUERY
func extErrorCode(ctx context.Context, writer *buffer.Writer, err error) error {
	_, werr := writeErrorResponse(writer, err)
	if werr != nil {
		return werr
	}

	if holder := skipHolderFromContext(ctx); holder != nil {
		holder.enter()
	}

	return nil
}
