package pgadapter

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cloudspannerecosystem/pgadapter-go/internal/session"
	"github.com/cloudspannerecosystem/pgadapter-go/internal/values"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/buffer"
	"github.com/cloudspannerecosystem/pgadapter-go/pkg/types"
)

// CancelRequestFn handles an incoming CancelRequest. processID/secretKey are
// the values the client echoes back from the BackendKeyData it received when
// the connection it wants to cancel was established.
type CancelRequestFn func(ctx context.Context, processID int32, secretKey int32) error

// ListenAndServe opens a new Postgres server using the given address and
// default configurations. The given handler function is used to handle simple
// queries. This method should be used to construct a simple Postgres server for
// testing purposes or simple use cases.
func ListenAndServe(address string, handler ParseFn) error {
	server, err := NewServer(handler)
	if err != nil {
		return err
	}

	return server.ListenAndServe(address)
}

// NewServer constructs a new Postgres server using the given parse function and server options.
func NewServer(parse ParseFn, options ...OptionFn) (*Server, error) {
	srv := &Server{
		parse:       parse,
		logger:      slog.Default(),
		closer:      make(chan struct{}),
		types:       pgtype.NewMap(),
		values:      values.NewRegistry(),
		Statements:  &DefaultStatementCache{},
		Portals:     &DefaultPortalCache{},
		Session:     func(ctx context.Context) (context.Context, error) { return ctx, nil },
		connections: make(map[uint32]*connEntry),
	}

	for _, option := range options {
		err := option(srv)
		if err != nil {
			return nil, fmt.Errorf("unexpected error while attempting to configure a new server: %w", err)
		}
	}

	if srv.CancelRequest == nil {
		srv.CancelRequest = srv.defaultCancelRequest
	}

	return srv, nil
}

// Server contains options for listening to an address.
type Server struct {
	closing         atomic.Bool
	wg              sync.WaitGroup
	logger          *slog.Logger
	types           *pgtype.Map
	values          *values.Registry
	Auth            AuthStrategy
	BufferedMsgSize int
	Parameters      Parameters
	TLSConfig       *tls.Config
	Certificates    []tls.Certificate
	ClientCAs       *x509.CertPool
	ClientAuth      tls.ClientAuthType
	parse           ParseFn
	Session         SessionHandler
	Statements      StatementCache
	Portals         PortalCache
	CloseConn       CloseFn
	TerminateConn   CloseFn
	Version         string
	closer          chan struct{}

	// Backend is the Cloud Spanner-backed database every connection's
	// statements are ultimately executed against.
	Backend Backend

	// CancelRequest is invoked with the processID/secretKey pair a client
	// sends in a CancelRequest; the default implementation looks up the
	// matching connection in the internal registry and cancels that
	// connection's context.
	CancelRequest CancelRequestFn

	connMu      sync.Mutex
	connections map[uint32]*connEntry
}

// connEntry tracks the cancellation handle for a single live connection,
// keyed by the connection ID reported to the client as BackendKeyData.
type connEntry struct {
	secretKey int32
	cancel    context.CancelFunc
}

// registerConnection assigns a new connection ID/secret key pair and stores
// a cancel func that CancelRequest can later invoke.
func (srv *Server) registerConnection(cancel context.CancelFunc) (uint32, int32) {
	id := randomUint32()
	secret := int32(randomUint32())

	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	srv.connections[id] = &connEntry{secretKey: secret, cancel: cancel}

	return id, secret
}

func (srv *Server) deregisterConnection(id uint32) {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	delete(srv.connections, id)
}

// defaultCancelRequest looks up the connection identified by processID and,
// if its secretKey matches, cancels its context. Unknown or mismatched
// processID/secretKey pairs are silently ignored, matching PostgreSQL's own
// refusal to reveal whether a given backend PID exists.
func (srv *Server) defaultCancelRequest(_ context.Context, processID int32, secretKey int32) error {
	srv.connMu.Lock()
	entry, ok := srv.connections[uint32(processID)]
	srv.connMu.Unlock()

	if !ok || entry.secretKey != secretKey {
		return nil
	}

	entry.cancel()
	return nil
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed value rather than panicking mid-handshake.
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// ListenAndServe opens a new Postgres server on the preconfigured address and
// starts accepting and serving incoming client connections.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// ListenAndServeUnix opens a new Postgres server on a Unix domain socket at
// the given path, mirroring how real PostgreSQL servers additionally accept
// local connections at /tmp/.s.PGSQL.<port>.
func (srv *Server) ListenAndServeUnix(path string) error {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on unix socket %s: %w", path, err)
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres client connections using the
// preconfigured configurations. The given listener will be closed once the
// server is gracefully closed.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")

	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))
	srv.wg.Add(1)

	// NOTE: handle graceful shutdowns
	go func() {
		defer srv.wg.Done()
		<-srv.closer

		err := listener.Close()
		if err != nil {
			srv.logger.Error("unexpected error while attempting to close the net listener", "err", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}

		if err != nil {
			return err
		}

		go func() {
			ctx := context.Background()
			err = srv.serve(ctx, conn)
			if err != nil {
				srv.logger.Error("an unexpected error got returned while serving a client connectio", "err", err)
			}
		}()
	}
}

func (srv *Server) serve(ctx context.Context, conn net.Conn) error {
	ctx = setTypeMap(ctx, srv.types)
	ctx = setValuesRegistry(ctx, srv.values)
	if srv.Backend != nil {
		ctx = setBackend(ctx, srv.Backend)
	}
	defer conn.Close()

	srv.logger.Debug("serving a new client connection")

	conn, version, reader, err := srv.Handshake(conn)
	if err != nil {
		return err
	}

	if version == types.VersionCancel {
		return conn.Close()
	}

	srv.logger.Debug("handshake successfull, validating authentication")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	connID, secretKey := srv.registerConnection(cancel)
	ctx = setConnectionID(ctx, connID)
	defer srv.deregisterConnection(connID)

	writer := buffer.NewWriter(srv.logger, conn)
	ctx, err = srv.readClientParameters(ctx, reader)
	if err != nil {
		return err
	}

	ctx, err = srv.handleAuth(ctx, reader, writer)
	if err != nil {
		return err
	}

	srv.logger.Debug("connection authenticated, writing server parameters")

	ctx, err = srv.writeParameters(ctx, writer, srv.Parameters)
	if err != nil {
		return err
	}

	if err := writeBackendKeyData(writer, connID, secretKey); err != nil {
		return err
	}

	ctx = setTxHolder(ctx)
	ctx = setSkipHolder(ctx)
	ctx = setResponseQueue(ctx)
	ctx = setSession(ctx, session.New())

	ctx, err = srv.Session(ctx)
	if err != nil {
		return err
	}

	return srv.consumeCommands(ctx, conn, reader, writer)
}

// Close gracefully closes the underlaying Postgres server.
func (srv *Server) Close() error {
	if srv.closing.Load() {
		return nil
	}

	srv.closing.Store(true)
	close(srv.closer)
	srv.wg.Wait()
	return nil
}
