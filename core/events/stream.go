package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ka1ii/developer-challenge/core/types"
)

const streamHistoryLimit = 2048

// StreamUpdate is a committed event stamped with its position in the stream.
type StreamUpdate struct {
	Sequence  uint64
	Cursor    string
	Timestamp int64
	Event     *types.Event
}

func cloneUpdate(update StreamUpdate) StreamUpdate {
	cloned := update
	cloned.Event = update.Event.Clone()
	return cloned
}

// Stream fans committed events out to live subscribers and keeps a bounded
// history so reconnecting clients can resume from a cursor.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan StreamUpdate
	history []StreamUpdate
	nowFn   func() time.Time
}

// NewStream returns an empty event stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[uint64]chan StreamUpdate), nowFn: time.Now}
}

// Emit implements Emitter. Events that cannot render a canonical payload are
// dropped.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok || payload.Event() == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	update := StreamUpdate{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		Timestamp: s.nowFn().Unix(),
		Event:     payload.Event().Clone(),
	}
	s.history = append(s.history, update)
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]StreamUpdate, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// cancel closes channels under mu, so sends must hold it too. A full
	// subscriber misses the update and can resume from its cursor.
	for _, ch := range s.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber for events after the supplied cursor. The
// returned backlog holds retained events newer than the cursor.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan StreamUpdate, func(), []StreamUpdate) {
	updates := make(chan StreamUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]StreamUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
