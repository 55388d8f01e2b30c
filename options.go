package pgadapter

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
)

// OptionFn is the functional-options pattern used to configure a new Server
// inside NewServer.
type OptionFn func(*Server) error

// WithBackend sets the Cloud Spanner-backed database that every connection's
// statements are executed against. A server without a Backend can still
// accept connections and run SET/SHOW/RESET against its session store, but
// any SELECT/DML/DDL fails.
func WithBackend(backend Backend) OptionFn {
	return func(srv *Server) error {
		srv.Backend = backend
		return nil
	}
}

// WithParse overrides the ParseFn used to translate incoming query strings
// into executable statements. Most callers should prefer WithBackend and let
// NewSpannerParseFn wire it in; this is for library embedders with a
// completely custom backend integration.
func WithParse(parse ParseFn) OptionFn {
	return func(srv *Server) error {
		srv.parse = parse
		return nil
	}
}

// WithAuth sets the authentication strategy used to validate incoming client
// connections.
func WithAuth(auth AuthStrategy) OptionFn {
	return func(srv *Server) error {
		srv.Auth = auth
		return nil
	}
}

// WithTLSConfig enables SSL negotiation using the given configuration.
func WithTLSConfig(config *tls.Config) OptionFn {
	return func(srv *Server) error {
		srv.TLSConfig = config
		return nil
	}
}

// WithClientCAs configures the certificate pool used to validate client
// certificates when ClientAuth requires one.
func WithClientCAs(pool *x509.CertPool, auth tls.ClientAuthType) OptionFn {
	return func(srv *Server) error {
		srv.ClientCAs = pool
		srv.ClientAuth = auth
		return nil
	}
}

// WithParameters sets the static server parameters (ParameterStatus values)
// announced to clients after authentication.
func WithParameters(parameters Parameters) OptionFn {
	return func(srv *Server) error {
		srv.Parameters = parameters
		return nil
	}
}

// WithVersion overrides the server_version parameter reported to clients.
func WithVersion(version string) OptionFn {
	return func(srv *Server) error {
		srv.Version = version
		if srv.Parameters == nil {
			srv.Parameters = Parameters{}
		}
		srv.Parameters[ParamServerVersion] = version
		return nil
	}
}

// WithSession installs a SessionHandler invoked once per connection right
// after authentication, before the first command is read.
func WithSession(handler SessionHandler) OptionFn {
	return func(srv *Server) error {
		srv.Session = handler
		return nil
	}
}

// WithStatementCache overrides the default in-memory StatementCache.
func WithStatementCache(cache StatementCache) OptionFn {
	return func(srv *Server) error {
		srv.Statements = cache
		return nil
	}
}

// WithPortalCache overrides the default in-memory PortalCache.
func WithPortalCache(cache PortalCache) OptionFn {
	return func(srv *Server) error {
		srv.Portals = cache
		return nil
	}
}

// WithCloseConn stores fn as Server.CloseConn. The server does not invoke it
// itself: a client Close message only drops a prepared statement or portal.
func WithCloseConn(fn CloseFn) OptionFn {
	return func(srv *Server) error {
		srv.CloseConn = fn
		return nil
	}
}

// WithTerminateConn registers a function invoked when the client issues a
// Terminate message. A connection that drops without one does not invoke it.
func WithTerminateConn(fn CloseFn) OptionFn {
	return func(srv *Server) error {
		srv.TerminateConn = fn
		return nil
	}
}

// WithBufferedMsgSize overrides the maximum message size the wire reader
// will accept before returning ErrMessageSizeExceeded.
func WithBufferedMsgSize(size int) OptionFn {
	return func(srv *Server) error {
		srv.BufferedMsgSize = size
		return nil
	}
}

// WithLogger overrides the server's slog.Logger, used for every connection's
// structured log output.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(srv *Server) error {
		srv.logger = logger
		return nil
	}
}

// WithCancelRequest overrides how CancelRequest messages are handled. The
// default implementation looks up the target connection in the server's own
// registry and cancels its context.
func WithCancelRequest(fn CancelRequestFn) OptionFn {
	return func(srv *Server) error {
		srv.CancelRequest = fn
		return nil
	}
}
