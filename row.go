package pgadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudspannerecosystem/pgadapter-go/pkg/buffer"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/types"
	"github.com/lib/pq/oid"
)

// Columns represent a collection of columns
type Columns []Column

// Define writes the table RowDescription headers for the given table and the
// containing columns. The headers have to be written before any data rows
// could be sent back to the client. formats carries the per-column format
// codes negotiated by Bind; it may be nil before Bind has run, in which case
// every column is reported as text format.
func (columns Columns) Define(ctx context.Context, writer *buffer.Writer, formats []FormatCode) error {
	writer.Start(types.ServerRowDescription)
	writer.AddInt16(int16(len(columns)))

	for index, column := range columns {
		if len(formats) > index {
			column.Format = formats[index]
		}
		column.Define(ctx, writer)
	}

	return writer.End()
}

// Write writes the given column values back to the client using the
// predefined table column types in text format; a column negotiated as
// binary makes it return an error.
func (columns Columns) Write(ctx context.Context, formats []FormatCode, writer *buffer.Writer, srcs []any) (err error) {
	if len(srcs) != len(columns) {
		return fmt.Errorf("unexpected columns, %d columns are defined inside the given table but %d were given", len(columns), len(srcs))
	}

	writer.Start(types.ServerDataRow)
	writer.AddInt16(int16(len(columns)))

	for index, column := range columns {
		if len(formats) > index {
			column.Format = formats[index]
		}

		if err := column.Write(ctx, writer, srcs[index]); err != nil {
			return err
		}
	}

	return writer.End()
}

// Column represents a table column and its attributes such as name, type and
// encode formatter.
// https://www.postgresql.org/docs/8.3/catalog-pg-attribute.html
type Column struct {
	Table        int32  // table id
	Name         string // column name
	AttrNo       int16  // column attribute no (optional)
	Oid          oid.Oid
	Width        int16
	TypeModifier int32
	Format       FormatCode
}

// Define writes the column header values to the given writer.
// This method is used to define a column inside RowDescription message defining
// the column type, width, and name.
func (column Column) Define(ctx context.Context, writer *buffer.Writer) {
	writer.AddString(column.Name)
	writer.AddNullTerminate()
	writer.AddInt32(column.Table)
	writer.AddInt16(column.AttrNo)
	writer.AddInt32(int32(column.Oid))
	writer.AddInt16(column.Width)
	writer.AddInt32(column.TypeModifier)
	writer.AddInt16(int16(column.Format))
}

// Write encodes the given source value as text using the column's type,
// appending the encoded bytes to the writer as a DataRow field. A nil src is
// written as the wire NULL sentinel (-1 length); a binary column format is
// rejected with an error.
func (column Column) Write(ctx context.Context, writer *buffer.Writer, src any) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if src == nil {
		writer.AddInt32(-1)
		return nil
	}

	if column.Format == BinaryFormat {
		return errors.New("binary result format is not yet supported")
	}

	registry := valuesRegistry(ctx)
	bb, err := registry.EncodeText(column.Oid, src)
	if err != nil {
		return err
	}

	writer.AddInt32(int32(len(bb)))
	writer.AddBytes(bb)

	return nil
}
