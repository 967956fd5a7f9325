package fsgen

import "sync"

// EventType identifies one of the typed events an engine (or a composed
// set of engines) emits, per §6 of the base spec.
type EventType string

const (
	EventStart   EventType = "start"
	EventWatch   EventType = "watch"
	EventWrite   EventType = "write"
	EventFinish  EventType = "finish"
	EventError   EventType = "error"
	EventAbort   EventType = "abort"
	EventDestroy EventType = "destroy"
	EventCustom  EventType = "custom"
)

// WatchKind mirrors the normalized kinds the recursive/existence watchers
// emit: add, addDir, change, unlink, unlinkDir.
type WatchKind string

const (
	WatchAdd       WatchKind = "add"
	WatchAddDir    WatchKind = "addDir"
	WatchChange    WatchKind = "change"
	WatchUnlink    WatchKind = "unlink"
	WatchUnlinkDir WatchKind = "unlinkDir"
)

// Event is the payload delivered to every subscriber, with only the fields
// relevant to Type populated.
type Event struct {
	Type EventType
	Name string // the emitting engine's name, for composed engines

	WatchKind WatchKind // EventWatch
	Path      string    // EventWatch, EventWrite

	Result any   // EventFinish
	Err    error // EventError

	Reason string // EventAbort: "watch" | "rerun" | "destroy"

	CustomKey  string // EventCustom
	CustomData any    // EventCustom
}

// Bus is the typed event emitter (component C9), channel-free so it can be
// shared across composed engines without any single child's slow consumer
// blocking another's emission.
type Bus struct {
	mu   sync.Mutex
	subs map[EventType][]func(Event)
	all  []func(Event)
}

// NewBus builds a private emitter. Engines default to one of these unless
// Options.Events supplies a shared instance (for Compose).
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]func(Event))}
}

// On subscribes fn to events of the given type and returns an unsubscribe
// function.
func (b *Bus) On(t EventType, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], fn)
	idx := len(b.subs[t]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subs[t]) {
			b.subs[t][idx] = nil
		}
	}
}

// OnAny subscribes fn to every event type.
func (b *Bus) OnAny(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.all = append(b.all, fn)
	idx := len(b.all) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.all) {
			b.all[idx] = nil
		}
	}
}

// emit is reentrant-safe against nested emit calls from within a
// subscriber, matching the design note in §4.9 that no locking is needed
// around the shared emitter beyond that guarantee: the subscriber slice is
// snapshotted before any callback runs.
func (b *Bus) emit(ev Event) {
	b.mu.Lock()
	typed := append([]func(Event){}, b.subs[ev.Type]...)
	all := append([]func(Event){}, b.all...)
	b.mu.Unlock()

	for _, fn := range typed {
		if fn != nil {
			fn(ev)
		}
	}
	for _, fn := range all {
		if fn != nil {
			fn(ev)
		}
	}
}

// Emit publishes a custom application event (the generator context's
// "emit" surface).
func (b *Bus) Emit(name string, key string, data any) {
	b.emit(Event{Type: EventCustom, Name: name, CustomKey: key, CustomData: data})
}
