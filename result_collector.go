package pgadapter

import (
	"context"
	"errors"
	"io"
)

// ResultCollector is a DataWriter that buffers rows and the command-complete
// tag in memory instead of writing them to a wire connection. It is used by
// tests that exercise a PreparedStatementFn directly, without standing up a
// real buffer.Writer over a net.Conn.
type ResultCollector struct {
	columns Columns
	rows    [][]any
	tag     string
	empty   bool
	written uint64
	err     error
}

// NewResultCollector returns an empty ResultCollector for columns.
func NewResultCollector(ctx context.Context, columns Columns) *ResultCollector {
	return &ResultCollector{columns: columns}
}

func (rc *ResultCollector) Row(values []any) error {
	if rc.err != nil {
		return rc.err
	}

	rc.rows = append(rc.rows, values)
	rc.written++
	return nil
}

func (rc *ResultCollector) Complete(tag string) error {
	rc.tag = tag
	return nil
}

func (rc *ResultCollector) Empty() error {
	rc.empty = true
	return nil
}

func (rc *ResultCollector) Written() uint64 {
	return rc.written
}

func (rc *ResultCollector) CopyIn(overallFormat FormatCode, columnFormats []FormatCode) (io.Reader, error) {
	return nil, errors.New("ResultCollector does not support CopyIn; use PortalCacheCopyIn against a real connection")
}

// Columns returns the column layout the collector was constructed with.
func (rc *ResultCollector) Columns() Columns {
	return rc.columns
}

// Rows returns every row collected via Row, in the order they were written.
func (rc *ResultCollector) Rows() [][]any {
	return rc.rows
}

// Tag returns the CommandComplete description passed to Complete, or "" if
// Complete has not yet been called.
func (rc *ResultCollector) Tag() string {
	return rc.tag
}

// IsEmpty reports whether the statement announced an empty result via Empty().
func (rc *ResultCollector) IsEmpty() bool {
	return rc.empty
}

// SetError makes every subsequent Row call fail with err, for simulating a
// write-side failure partway through a result set.
func (rc *ResultCollector) SetError(err error) {
	rc.err = err
}

var _ DataWriter = (*ResultCollector)(nil)
