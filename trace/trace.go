// Package trace implements the §6.2/§6.5 EngineEvent stream: an
// in-process fan-out bus every execution's execctx.Context emits into,
// plus an optional Redis Streams-backed mirror so execute_stream
// subscribers beyond the in-process channel (a separate process watching
// the same execution) can tail the same sequence.
//
// Grounded on the teacher's workflow_lifecycle.EventPublisher /
// coordinator.go event-publishing calls (publish a typed event after
// every state transition) generalized from their Redis-stream-only
// publishing into a Bus that always keeps an in-memory log (so a single-
// process Execute/GetExecutionTrace never needs Redis) and optionally
// mirrors to Redis.
package trace

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/flowengine/logging"
	"github.com/lyzr/flowengine/types"
)

// Bus collects one execution's EngineEvents in emission order and
// fans them out to any subscribed channel (execute_stream callers),
// optionally mirroring each event onto a Redis stream.
type Bus struct {
	mu     sync.Mutex
	events []types.EngineEvent
	subs   []chan types.EngineEvent

	redisClient *redis.Client
	streamKey   string
	log         logging.Logger
}

// NewBus constructs a Bus for one execution. redisClient may be nil, in
// which case the bus is purely in-memory.
func NewBus(executionID string, redisClient *redis.Client, log logging.Logger) *Bus {
	if log == nil {
		log = logging.New("info", "text")
	}
	return &Bus{
		redisClient: redisClient,
		streamKey:   "trace:" + executionID,
		log:         log,
	}
}

// Emit satisfies execctx.EventSink: it appends to the durable in-memory
// log, forwards to every live subscriber (non-blocking — a slow
// subscriber drops events rather than stalling the execution), and
// mirrors to Redis Streams when configured. An event that arrives with
// Seq 0 is stamped with its 1-based position in the log; a seq already
// assigned (as execctx.Context.Emit does) is kept.
func (b *Bus) Emit(ev types.EngineEvent) {
	b.mu.Lock()
	if ev.Seq == 0 {
		ev.Seq = uint64(len(b.events)) + 1
	}
	b.events = append(b.events, ev)
	subs := make([]chan types.EngineEvent, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("trace: dropping event for slow execute_stream subscriber", "type", ev.Type)
		}
	}

	if b.redisClient != nil {
		b.mirrorToRedis(ev)
	}
}

func (b *Bus) mirrorToRedis(ev types.EngineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("trace: failed to marshal event for redis mirror", "error", err)
		return
	}
	ctx := context.Background()
	if err := b.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey,
		Values: map[string]interface{}{"event": string(payload), "seq": ev.Seq},
	}).Err(); err != nil {
		b.log.Warn("trace: failed to mirror event to redis stream", "stream", b.streamKey, "error", err)
	}
}

// Subscribe returns a channel that receives every event emitted from this
// point forward. The returned cancel func must be called to stop
// receiving and release the channel.
func (b *Bus) Subscribe(buffer int) (<-chan types.EngineEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.EngineEvent, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subs {
			if c == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Events returns a copy of every event recorded so far, in emission
// order — the in-memory backing for Engine.GetExecutionTrace.
func (b *Bus) Events() []types.EngineEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.EngineEvent, len(b.events))
	copy(out, b.events)
	return out
}
