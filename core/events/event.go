package events

import "github.com/ka1ii/developer-challenge/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// canonical wire form.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in memory until they are flushed to another
// emitter. Events raised inside a call are only published once the call's
// state has been committed.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.events...)
}

// FlushTo forwards buffered events to dst and clears the buffer.
func (b *Buffer) FlushTo(dst Emitter) {
	if dst != nil {
		for _, evt := range b.events {
			dst.Emit(evt)
		}
	}
	b.events = nil
}

// Reset drops all buffered events.
func (b *Buffer) Reset() { b.events = nil }

// Typed wraps a canonical event so it can travel through an Emitter.
type Typed struct {
	Evt *types.Event
}

func (t Typed) EventType() string {
	if t.Evt == nil {
		return ""
	}
	return t.Evt.Type
}

func (t Typed) Event() *types.Event { return t.Evt }
