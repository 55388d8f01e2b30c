package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasDefaults(t *testing.T) {
	s := New()

	v, ok := s.Get("timezone")
	require.True(t, ok)
	assert.Equal(t, "UTC", v)
}

func TestSetSessionScopePersistsAcrossTx(t *testing.T) {
	s := New()

	require.NoError(t, s.Set("application_name", "myapp", ScopeSession))
	s.BeginTx()
	s.EndTx()

	v, ok := s.Get("application_name")
	require.True(t, ok)
	assert.Equal(t, "myapp", v)
}

func TestSetLocalScopeRevertsAtEndTx(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("statement_timeout", "0", ScopeSession))

	s.BeginTx()
	require.NoError(t, s.Set("statement_timeout", "5000", ScopeLocal))

	v, ok := s.Get("statement_timeout")
	require.True(t, ok)
	assert.Equal(t, "5000", v)

	s.EndTx()

	v, ok = s.Get("statement_timeout")
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestSetLocalOutsideTxBehavesAsSession(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("statement_timeout", "5000", ScopeLocal))

	v, ok := s.Get("statement_timeout")
	require.True(t, ok)
	assert.Equal(t, "5000", v)
}

func TestReset(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("timezone", "America/New_York", ScopeSession))
	require.NoError(t, s.Reset("timezone"))

	v, ok := s.Get("timezone")
	require.True(t, ok)
	assert.Equal(t, "UTC", v)
}

func TestResetUnknownSettingRemovesIt(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("spanner.custom_thing", "1", ScopeSession))
	require.NoError(t, s.Reset("spanner.custom_thing"))

	_, ok := s.Get("spanner.custom_thing")
	assert.False(t, ok)
}

func TestIsVendorSetting(t *testing.T) {
	assert.True(t, IsVendorSetting("spanner.autocommit_dml_mode"))
	assert.True(t, IsVendorSetting("  SPANNER.DDL_TRANSACTION_MODE"))
	assert.False(t, IsVendorSetting("timezone"))
}

func TestFormatShow(t *testing.T) {
	assert.Equal(t, "unset", FormatShow("application_name", ""))
	assert.Equal(t, "", FormatShow("spanner.replace_pg_catalog_tables", ""))
	assert.Equal(t, "UTC", FormatShow("timezone", "UTC"))
}

func TestValidateAutocommitDMLMode(t *testing.T) {
	assert.NoError(t, ValidateAutocommitDMLMode("transactional"))
	assert.NoError(t, ValidateAutocommitDMLMode("Partitioned_Non_Atomic"))
	assert.Error(t, ValidateAutocommitDMLMode("bogus"))
}
