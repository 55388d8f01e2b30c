package pgadapter

import (
	"context"
	"sync"
)

// skipHolder tracks Sync-window skip mode: once an extended-query message
// (Parse/Bind/Describe/Execute) fails, the backend must read and discard
// every message up to and including the next Sync, then resume normal
// processing with exactly one ReadyForQuery for the whole window.
// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-FLOW-EXT-QUERY
type skipHolder struct {
	mu     sync.Mutex
	active bool
}

// enter puts the connection into skip mode.
func (h *skipHolder) enter() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
}

// leave clears skip mode, called once a Sync is observed.
func (h *skipHolder) leave() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
}

func (h *skipHolder) isActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// setSkipHolder installs a cleared skip-mode slot into ctx; called once per
// connection, before the first command is consumed.
func setSkipHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxSkipHolder, &skipHolder{})
}

func skipHolderFromContext(ctx context.Context) *skipHolder {
	val := ctx.Value(ctxSkipHolder)
	if val == nil {
		return nil
	}
	return val.(*skipHolder)
}
