// Package session implements the server-side store of session-scoped
// configuration parameters (GUCs) tracked per client connection: the
// standard PostgreSQL settings clients rely on plus the spanner.* vendor
// namespace that controls PGAdapter-specific behavior.
package session

import (
	"fmt"
	"strings"
	"sync"
)

// Scope distinguishes a SET LOCAL value (reverted at the next transaction
// boundary) from a SET SESSION value (persists for the life of the
// connection).
type Scope int

const (
	ScopeSession Scope = iota
	ScopeLocal
)

// defaults mirrors the handful of GUCs PostgreSQL clients query on connect.
var defaults = map[string]string{
	"application_name":                     "",
	"datestyle":                            "ISO, MDY",
	"timezone":                             "UTC",
	"extra_float_digits":                   "1",
	"statement_timeout":                    "0",
	"spanner.replace_pg_catalog_tables":    "true",
	"spanner.autocommit_dml_mode":          "transactional",
	"spanner.ddl_transaction_mode":         "autocommitimplicittransaction",
}

// Store holds the current value of every GUC known to a connection, along
// with the session-scoped value a SET LOCAL override should revert to.
type Store struct {
	mu       sync.RWMutex
	session  map[string]string
	local    map[string]string
	inTx     bool
}

// New returns a Store pre-populated with the standard defaults.
func New() *Store {
	session := make(map[string]string, len(defaults))
	for k, v := range defaults {
		session[k] = v
	}
	return &Store{session: session, local: make(map[string]string)}
}

// BeginTx marks the store as being inside a transaction block, so that
// subsequent SET LOCAL calls are scoped to it.
func (s *Store) BeginTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
}

// EndTx clears any SET LOCAL overrides accumulated during the transaction,
// whether it committed or rolled back.
func (s *Store) EndTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	s.local = make(map[string]string)
}

// Set applies a SET statement. scope is ignored (treated as ScopeSession)
// when the store is not currently inside a transaction, matching Postgres's
// own SET LOCAL semantics.
func (s *Store) Set(name, value string, scope Scope) error {
	name = normalize(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeLocal && s.inTx {
		s.local[name] = value
		return nil
	}

	s.session[name] = value
	return nil
}

// Reset restores name to its default value.
func (s *Store) Reset(name string) error {
	name = normalize(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.local, name)
	if def, ok := defaults[name]; ok {
		s.session[name] = def
		return nil
	}
	delete(s.session, name)
	return nil
}

// Get returns the effective value of name: the SET LOCAL override if one is
// active, otherwise the session value.
func (s *Store) Get(name string) (string, bool) {
	name = normalize(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.local[name]; ok {
		return v, true
	}
	v, ok := s.session[name]
	return v, ok
}

// All returns a snapshot of every effective GUC, local overrides applied.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.session))
	for k, v := range s.session {
		out[k] = v
	}
	for k, v := range s.local {
		out[k] = v
	}
	return out
}

// IsVendorSetting reports whether name belongs to the spanner.* namespace
// that PGAdapter extends the GUC surface with, rather than a setting a real
// PostgreSQL server would recognize.
func IsVendorSetting(name string) bool {
	return strings.HasPrefix(normalize(name), "spanner.")
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FormatShow renders a GUC value the way SHOW reports it, for settings whose
// representation differs from the raw stored string.
func FormatShow(name, value string) string {
	if value == "" && !IsVendorSetting(name) {
		return "unset"
	}
	return value
}

// ValidateAutocommitDMLMode checks the value accepted by
// spanner.autocommit_dml_mode, one of "transactional" or "partitioned_non_atomic".
func ValidateAutocommitDMLMode(value string) error {
	switch strings.ToLower(value) {
	case "transactional", "partitioned_non_atomic":
		return nil
	default:
		return fmt.Errorf("invalid value for spanner.autocommit_dml_mode: %s", value)
	}
}
