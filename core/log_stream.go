package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tickechain/core/events"
	"tickechain/observability"
)

// logBacklogLimit bounds the records replayed to a new subscriber.
const logBacklogLimit = 2048

const logSubscriberBuffer = 64

// logStream broadcasts committed log records to live subscribers. Slow
// subscribers miss records rather than stall commits; they can catch up
// through LogRange.
type logStream struct {
	mu     sync.Mutex
	subs   map[uint64]chan events.Committed
	nextID uint64
}

func newLogStream() *logStream {
	return &logStream{subs: make(map[uint64]chan events.Committed)}
}

// Emit implements events.Emitter. Sends never block, so the lock is held
// across delivery and unsubscribe cannot close a channel mid-send.
func (s *logStream) Emit(evt events.Event) {
	committed, ok := evt.(events.Committed)
	if !ok || committed.Record == nil {
		return
	}
	metrics := observability.LogStream()
	metrics.RecordCommitted(committed.Record.Type)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- committed:
		default:
			metrics.RecordDropped()
		}
	}
}

func (s *logStream) subscribe() (uint64, chan events.Committed) {
	ch := make(chan events.Committed, logSubscriberBuffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	observability.LogStream().SetSubscribers(len(s.subs))
	s.mu.Unlock()
	return id, ch
}

func (s *logStream) unsubscribe(id uint64) {
	s.mu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	observability.LogStream().SetSubscribers(len(s.subs))
	s.mu.Unlock()
}

// ParseCursor converts a stream cursor into the next sequence to deliver. An
// empty cursor starts at the beginning of the log.
func ParseCursor(cursor string) (uint64, error) {
	trimmed := strings.TrimSpace(cursor)
	if trimmed == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return seq, nil
}

// SubscribeLogs registers a subscriber for committed log records. The backlog
// holds durable records from the cursor onward; the channel then carries live
// records. A record may appear both in the backlog and on the channel, so
// consumers skip sequences they have already seen.
func (n *Node) SubscribeLogs(ctx context.Context, cursor string) (<-chan events.Committed, func(), []events.Committed, error) {
	if n == nil || n.stream == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	since, err := ParseCursor(cursor)
	if err != nil {
		return nil, nil, nil, err
	}
	id, updates := n.stream.subscribe()

	var once sync.Once
	cancel := func() {
		once.Do(func() { n.stream.unsubscribe(id) })
	}

	backlog, err := n.state.LogRange(since, logBacklogLimit)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}
