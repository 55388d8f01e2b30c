package pgadapter

import "context"

// ParseFn parses a client-supplied query string into zero or more prepared
// statements ready to be described, bound and executed. The default
// implementation (see NewSpannerParseFn) classifies the statement, routes it
// through the DDL translator when needed, and binds it to the configured
// Backend; callers embedding this package as a library may supply their own.
type ParseFn func(ctx context.Context, query string) (PreparedStatements, error)

// SessionHandler runs once per connection, immediately after authentication,
// and may enrich the context carried for the rest of the connection's
// lifetime (for example: attaching a session.Store for GUC bookkeeping).
type SessionHandler func(ctx context.Context) (context.Context, error)

// CloseFn is invoked when a connection is closed or terminated by the
// client, to release any per-connection resources (e.g. roll back an
// in-flight transaction).
type CloseFn func(ctx context.Context) error
