package pgadapter

import (
	"context"
	"sync"

	"github.com/cloudspannerecosystem/pgadapter-go/pkg/types"
)

// txHolder is a mutable per-connection slot for the currently active
// BackendTx. Unlike most connection state it cannot simply live in the
// context value map, since BEGIN/COMMIT/ROLLBACK must mutate it in place as
// later statements on the same connection observe the change.
type txHolder struct {
	mu sync.Mutex
	tx *BackendTx
}

func (h *txHolder) get() *BackendTx {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx
}

func (h *txHolder) set(tx *BackendTx) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tx = tx
}

// setTxHolder installs an empty transaction slot into ctx; called once per
// connection, before the first command is consumed.
func setTxHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxTxHolder, &txHolder{})
}

func txHolderFromContext(ctx context.Context) *txHolder {
	val := ctx.Value(ctxTxHolder)
	if val == nil {
		return nil
	}
	return val.(*txHolder)
}

// connStatus derives the ReadyForQuery status byte from the connection's
// current transaction: idle outside of BEGIN, in a transaction block after a
// BEGIN that has not errored, or failed once a statement inside that block
// has marked the transaction error-sticky.
// https://www.postgresql.org/docs/current/protocol-message-formats.html#PROTOCOL-MESSAGE-FORMATS-READYFORQUERY
func connStatus(ctx context.Context) types.ServerStatus {
	tx := currentTx(ctx)
	switch {
	case tx == nil:
		return types.ServerIdle
	case tx.ErrorSticky():
		return types.ServerTransactionFailed
	default:
		return types.ServerTransactionBlock
	}
}
