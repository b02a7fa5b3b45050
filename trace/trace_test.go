package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/types"
)

func TestBus_EmitAppendsToEventsInOrder(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	b.Emit(types.NewEngineEvent(types.EventEngineStart, "exec-1", nil, nil))
	b.Emit(types.NewEngineEvent(types.EventEngineEnd, "exec-1", nil, nil))

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventEngineStart, events[0].Type)
	assert.Equal(t, types.EventEngineEnd, events[1].Type)
}

func TestBus_EmitStampsMonotonicSeq(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	b.Emit(types.NewEngineEvent(types.EventNodeStart, "exec-1", nil, nil))
	b.Emit(types.NewEngineEvent(types.EventNodeEnd, "exec-1", nil, nil))

	events := b.Events()
	require.Len(t, events, 2)
	assert.Less(t, events[0].Seq, events[1].Seq)
}

func TestBus_SubscribeReceivesFutureEvents(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Emit(types.NewEngineEvent(types.EventLog, "exec-1", nil, map[string]interface{}{"msg": "hi"}))

	select {
	case ev := <-ch:
		assert.Equal(t, types.EventLog, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	ch, cancel := b.Subscribe(4)
	cancel()

	b.Emit(types.NewEngineEvent(types.EventLog, "exec-1", nil, nil))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestBus_EventsReturnsACopy(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	b.Emit(types.NewEngineEvent(types.EventLog, "exec-1", nil, nil))

	snap := b.Events()
	snap[0].Type = "mutated"

	fresh := b.Events()
	assert.Equal(t, types.EventLog, fresh[0].Type)
}

func TestBus_SlowSubscriberDoesNotBlockEmit(t *testing.T) {
	b := NewBus("exec-1", nil, nil)
	ch, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(types.NewEngineEvent(types.EventLog, "exec-1", nil, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow/unread subscriber channel")
	}
	_ = ch
}
