package pgadapter

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"

	_ "github.com/lib/pq"
	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// listenAndServe starts server on an arbitrary local TCP port and returns its
// address, closing the server when the test finishes.
func listenAndServe(t *testing.T, server *Server) *net.TCPAddr {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, server.Close()) })

	go server.Serve(listener) //nolint:errcheck

	return listener.Addr().(*net.TCPAddr)
}

func TestClientConnectAndSimpleQuery(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{rows: []BackendRow{{"1"}}}

	handler := func(ctx context.Context, query string) (PreparedStatements, error) {
		statement := NewPreparedStatement(query, nil, Columns{{Name: "one", Oid: oid.T_text}}, func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
			if err := writer.Row([]any{"1"}); err != nil {
				return err
			}
			return writer.Complete("SELECT 1")
		})
		return PreparedStatements{statement}, nil
	}

	server, err := NewServer(handler, WithBackend(backend), WithLogger(slogt.New(t)))
	require.NoError(t, err)

	addr := listenAndServe(t, server)

	connStr := fmt.Sprintf("host=%s port=%d sslmode=disable", addr.IP, addr.Port)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer db.Close()

	var value string
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&value))
	require.Equal(t, "1", value)
}

func TestClientConnectRunsDMLThroughBackend(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{}
	server, err := NewServer(NewSpannerParseFn(backend), WithBackend(backend), WithLogger(slogt.New(t)))
	require.NoError(t, err)

	addr := listenAndServe(t, server)

	connStr := fmt.Sprintf("host=%s port=%d sslmode=disable", addr.IP, addr.Port)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("UPDATE accounts SET balance = 1")
	require.NoError(t, err)
	require.Equal(t, []string{"UPDATE accounts SET balance = 1"}, backend.executed)
}
