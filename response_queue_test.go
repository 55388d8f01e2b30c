package pgadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseQueueBasicOperations(t *testing.T) {
	t.Parallel()

	queue := NewResponseQueue()
	queue.Enqueue(NewParseCompleteEvent())
	queue.Enqueue(NewBindCompleteEvent())

	assert.Equal(t, 2, queue.Len())

	events := queue.DrainAll()
	require.Len(t, events, 2)
	assert.Equal(t, ResponseParseComplete, events[0].Kind)
	assert.Equal(t, ResponseBindComplete, events[1].Kind)
	assert.Equal(t, 0, queue.Len())
}

func TestResponseQueueDrainSyncWaitsForExecuteResult(t *testing.T) {
	t.Parallel()

	resultChan := make(chan *QueuedDataWriter, 1)
	writer := NewQueuedDataWriter(context.Background(), Columns{{Name: "id"}}, Limit(0))
	_ = writer.Row([]any{"1"})
	_ = writer.Complete("SELECT 1")
	resultChan <- writer

	queue := NewResponseQueue()
	queue.Enqueue(NewParseCompleteEvent())
	queue.Enqueue(NewExecuteEvent(resultChan, nil))

	events, err := queue.DrainSync(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Same(t, writer, events[1].Result)
	assert.Equal(t, "SELECT 1", events[1].Result.tag)
}

func TestResponseQueueDrainSyncStopsAtError(t *testing.T) {
	t.Parallel()

	resultChan := make(chan *QueuedDataWriter, 1)
	writer := NewQueuedDataWriter(context.Background(), nil, Limit(0))
	writer.SetError(errors.New("boom"))
	resultChan <- writer

	queue := NewResponseQueue()
	queue.Enqueue(NewParseCompleteEvent())
	queue.Enqueue(NewExecuteEvent(resultChan, nil))
	queue.Enqueue(NewBindCompleteEvent())

	events, err := queue.DrainSync(context.Background())
	require.Error(t, err)
	assert.Len(t, events, 1, "events after the failing Execute must not be sent")
}

func TestQueuedDataWriterReplay(t *testing.T) {
	t.Parallel()

	writer := NewQueuedDataWriter(context.Background(), Columns{{Name: "id"}}, Limit(10))
	require.NoError(t, writer.Row([]any{"a"}))
	require.NoError(t, writer.Row([]any{"b"}))
	require.NoError(t, writer.Complete("SELECT 2"))

	collector := NewResultCollector(context.Background(), Columns{{Name: "id"}})
	require.NoError(t, writer.Replay(context.Background(), collector))

	assert.Equal(t, [][]any{{"a"}, {"b"}}, collector.Rows())
	assert.Equal(t, "SELECT 2", collector.Tag())
}
