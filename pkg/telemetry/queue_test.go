package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	q := NewQueue(8)

	for i := 0; i < 3; i++ {
		ok := q.Enqueue(&Event{ID: NewID(), Kind: KindCommand, SourceIP: "10.0.0.1"})
		require.True(t, ok)
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		select {
		case e := <-q.C():
			assert.Equal(t, KindCommand, e.Kind)
		default:
			t.Fatal("queue should have buffered events")
		}
	}
	assert.Equal(t, int64(0), q.Dropped())
}

func TestQueueDropsLowPriorityWhenFull(t *testing.T) {
	q := NewQueue(2)

	require.True(t, q.Enqueue(&Event{Kind: KindCommand}))
	require.True(t, q.Enqueue(&Event{Kind: KindLoginAttempt}))

	ok := q.Enqueue(&Event{Kind: KindCommand})
	assert.False(t, ok, "low priority event should be dropped when full")
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestQueueHighPriorityBoundedWait(t *testing.T) {
	q := NewQueue(1, WithEnqueueTimeout(20*time.Millisecond))
	require.True(t, q.Enqueue(&Event{Kind: KindCommand}))

	start := time.Now()
	ok := q.Enqueue(&Event{Kind: KindBlock})
	assert.False(t, ok, "blocked wait must be bounded")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), q.Dropped())
}

func TestQueueHighPriorityWaitsForSpace(t *testing.T) {
	q := NewQueue(1, WithEnqueueTimeout(time.Second))
	require.True(t, q.Enqueue(&Event{Kind: KindCommand}))

	go func() {
		time.Sleep(30 * time.Millisecond)
		<-q.C()
	}()

	ok := q.Enqueue(&Event{Kind: KindSessionEnd})
	assert.True(t, ok, "high priority event should enter once space frees up")
	assert.Equal(t, int64(0), q.Dropped())
}

func TestKindPriority(t *testing.T) {
	assert.Greater(t, KindBlock.Priority(), KindSessionEnd.Priority())
	assert.Greater(t, KindSessionEnd.Priority(), KindCommand.Priority())
	assert.Equal(t, KindCommand.Priority(), KindLoginAttempt.Priority())
}
