// Package values decodes wire-format parameter values sent by clients (text
// or binary, per the format code negotiated by Bind) into Go values suitable
// for binding into a Cloud Spanner statement, and encodes Spanner column
// values back into wire rows. It leans on pgx's pgtype codec registry rather
// than hand-rolling per-type parsing.
package values

import (
	"fmt"

	"github.com/golang-sql/civil"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
)

// Registry wraps a pgtype.Map with the additional OIDs PGAdapter needs:
// Spanner's NUMERIC type decodes through shopspring/decimal rather than
// pgtype's own math/big-backed Numeric, to match the precision Spanner
// actually stores.
type Registry struct {
	types *pgtype.Map
}

// NewRegistry returns a Registry backed by pgx's default type map.
func NewRegistry() *Registry {
	return &Registry{types: pgtype.NewMap()}
}

// Decode parses a single parameter value received in Bind. format 0 means
// text, 1 means binary, per the wire protocol's FormatCode.
func (r *Registry) Decode(oidValue oid.Oid, format int16, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}

	pt, ok := r.types.TypeForOID(uint32(oidValue))
	if !ok {
		// Unknown to pgtype: hand back the raw text, the backend's own
		// statement parameter binding will reject it if it's truly invalid.
		return string(raw), nil
	}

	if oidValue == oid.T_numeric {
		return decodeNumeric(format, raw)
	}

	// Spanner's DATE columns carry no time-of-day or time zone component;
	// civil.Date matches that exactly, unlike pgtype's time.Time-backed Date.
	if oidValue == oid.T_date {
		if format == 1 {
			return nil, fmt.Errorf("binary-format DATE parameters are not supported")
		}
		d, err := civil.ParseDate(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing date value %q: %w", raw, err)
		}
		return d, nil
	}

	wireFormat := int16(pgtype.TextFormatCode)
	if format == 1 {
		wireFormat = pgtype.BinaryFormatCode
	}
	dst, err := pt.Codec.DecodeValue(r.types, pt.OID, wireFormat, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding parameter of type %s: %w", pt.Name, err)
	}

	return dst, nil
}

func decodeNumeric(format int16, raw []byte) (any, error) {
	if format == 1 {
		return nil, fmt.Errorf("binary-format NUMERIC parameters are not supported")
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing numeric value %q: %w", raw, err)
	}
	return d, nil
}

// EncodeText renders a Go value returned from the backend as the text-format
// wire representation clients expect for the given column OID.
func (r *Registry) EncodeText(oidValue oid.Oid, value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case decimal.Decimal:
		return []byte(v.String()), nil
	case civil.Date:
		return []byte(v.String()), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}

	pt, ok := r.types.TypeForOID(uint32(oidValue))
	if !ok {
		return []byte(fmt.Sprintf("%v", value)), nil
	}

	buf, err := pt.Codec.PlanEncode(r.types, pt.OID, pgtype.TextFormatCode, value).Encode(value, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding value of type %s: %w", pt.Name, err)
	}
	return buf, nil
}
