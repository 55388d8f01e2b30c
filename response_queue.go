package pgadapter

import (
	"context"

	"github.com/lib/pq/oid"
)

// ResponseEventKind represents the type of event in the ResponseQueue
type ResponseEventKind uint8

const (
	// ResponseParseComplete represents a ParseComplete ack
	ResponseParseComplete ResponseEventKind = iota + 1
	// ResponseBindComplete represents a BindComplete ack
	ResponseBindComplete
	// ResponseStmtDescribe represents a composite ParameterDescription + RowDescription
	// for a statement (from Describe Statement)
	ResponseStmtDescribe
	// ResponsePortalDescribe represents a RowDescription for a portal (from Describe Portal)
	ResponsePortalDescribe
	// ResponseExecute represents an Execute with its complete result set
	// (DataRows, CommandComplete)
	ResponseExecute
)

// ResponseEvent represents an event in the response stream
// Use the constructor functions (NewParseCompleteEvent, etc.) to create events
type ResponseEvent struct {
	Kind ResponseEventKind

	// For ResponseStmtDescribe: holds parameter OIDs and column definitions
	Parameters []oid.Oid
	Columns    Columns

	// For ResponsePortalDescribe and ResponseExecute: format codes for result columns
	Formats []FormatCode

	// For ResponseExecute: tracks completion and results
	ResultChannel chan *QueuedDataWriter // channel to receive results
	Result        *QueuedDataWriter      // cached result once received
}

// NewParseCompleteEvent creates a ParseComplete response event
func NewParseCompleteEvent() *ResponseEvent {
	return &ResponseEvent{
		Kind: ResponseParseComplete,
	}
}

// NewBindCompleteEvent creates a BindComplete response event
func NewBindCompleteEvent() *ResponseEvent {
	return &ResponseEvent{
		Kind: ResponseBindComplete,
	}
}

// NewStmtDescribeEvent creates a statement Describe response event
func NewStmtDescribeEvent(parameters []oid.Oid, columns Columns) *ResponseEvent {
	return &ResponseEvent{
		Kind:       ResponseStmtDescribe,
		Parameters: parameters,
		Columns:    columns,
	}
}

// NewPortalDescribeEvent creates a portal Describe response event
func NewPortalDescribeEvent(columns Columns, formats []FormatCode) *ResponseEvent {
	return &ResponseEvent{
		Kind:    ResponsePortalDescribe,
		Columns: columns,
		Formats: formats,
	}
}

// NewExecuteEvent creates an Execute response event
func NewExecuteEvent(resultChan chan *QueuedDataWriter, formats []FormatCode) *ResponseEvent {
	return &ResponseEvent{
		Kind:          ResponseExecute,
		ResultChannel: resultChan,
		Formats:       formats,
	}
}

// ResponseQueue maintains all events in arrival order for a cycle
type ResponseQueue struct {
	events []*ResponseEvent
}

// NewResponseQueue creates a new empty ResponseQueue
func NewResponseQueue() *ResponseQueue {
	return &ResponseQueue{
		events: make([]*ResponseEvent, 0),
	}
}

// Enqueue adds an event to the queue
func (q *ResponseQueue) Enqueue(event *ResponseEvent) {
	q.events = append(q.events, event)
}

// DrainSync drains all events for one Sync window, waiting for all results to
// be received, and clears the queue for the next window regardless of
// outcome. It returns early if an error is encountered or the context is
// cancelled; only returns events up to but not including an error event.
func (q *ResponseQueue) DrainSync(ctx context.Context) ([]*ResponseEvent, error) {
	events := q.events
	q.events = make([]*ResponseEvent, 0)

	processedEvents := make([]*ResponseEvent, 0, len(events))

	for _, event := range events {

		if event.Kind == ResponseExecute {
			if event.ResultChannel != nil {
				select {
				case res := <-event.ResultChannel:
					event.Result = res
					// Check if the result contains an error
					if res != nil && res.GetError() != nil {
						// Return events processed so far,not including the error event
						// Events after this one won't be sent on the wire
						return processedEvents, res.GetError()
					}
				case <-ctx.Done():
					// Context cancelled - return events processed up to this point.
					// The current event has no result and is not included.
					return processedEvents, ctx.Err()
				}
			}
		}

		processedEvents = append(processedEvents, event)
	}

	// All events processed successfully
	return processedEvents, nil
}

// DrainAll returns all events in arrival order and clears the queue
func (q *ResponseQueue) DrainAll() []*ResponseEvent {
	result := q.events
	q.events = make([]*ResponseEvent, 0)
	return result
}

// Clear resets the queue for a new cycle
func (q *ResponseQueue) Clear() {
	q.events = make([]*ResponseEvent, 0)
}

// Len returns the number of events in the queue
func (q *ResponseQueue) Len() int {
	return len(q.events)
}

// setResponseQueue installs an empty ResponseQueue into ctx; called once per
// connection, before the first command is consumed. The queue is not safe
// for concurrent use, but a connection's commands are always processed one
// at a time by consumeCommands, so a single unguarded value suffices (the
// same reasoning CopyReaderFromContext relies on).
func setResponseQueue(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxResponseQueue, NewResponseQueue())
}

// responseQueueFromContext returns the ResponseQueue bound to ctx, or nil
// outside of a live connection (e.g. a bare library usage or a test that
// drives a PreparedStatementFn directly).
func responseQueueFromContext(ctx context.Context) *ResponseQueue {
	val := ctx.Value(ctxResponseQueue)
	if val == nil {
		return nil
	}
	return val.(*ResponseQueue)
}
