package values

import (
	"testing"

	"github.com/golang-sql/civil"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNumeric(t *testing.T) {
	r := NewRegistry()

	v, err := r.Decode(oid.T_numeric, 0, []byte("123.456"))
	require.NoError(t, err)

	d, ok := v.(decimal.Decimal)
	require.True(t, ok)
	assert.Equal(t, "123.456", d.String())
}

func TestDecodeNumericRejectsBinaryFormat(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode(oid.T_numeric, 1, []byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestDecodeDate(t *testing.T) {
	r := NewRegistry()

	v, err := r.Decode(oid.T_date, 0, []byte("2026-07-31"))
	require.NoError(t, err)

	d, ok := v.(civil.Date)
	require.True(t, ok)
	assert.Equal(t, 2026, d.Year)
	assert.Equal(t, 7, int(d.Month))
	assert.Equal(t, 31, d.Day)
}

func TestDecodeDateRejectsBinaryFormat(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode(oid.T_date, 1, []byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestDecodeNilValueIsNil(t *testing.T) {
	r := NewRegistry()

	v, err := r.Decode(oid.T_int8, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeText(t *testing.T) {
	r := NewRegistry()

	v, err := r.Decode(oid.T_text, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestEncodeTextNumeric(t *testing.T) {
	r := NewRegistry()

	buf, err := r.EncodeText(oid.T_numeric, decimal.RequireFromString("42.5"))
	require.NoError(t, err)
	assert.Equal(t, "42.5", string(buf))
}

func TestEncodeTextDate(t *testing.T) {
	r := NewRegistry()

	buf, err := r.EncodeText(oid.T_date, civil.Date{Year: 2026, Month: 7, Day: 31})
	require.NoError(t, err)
	assert.Equal(t, "2026-07-31", string(buf))
}

func TestEncodeTextNil(t *testing.T) {
	r := NewRegistry()

	buf, err := r.EncodeText(oid.T_text, nil)
	require.NoError(t, err)
	assert.Nil(t, buf)
}
