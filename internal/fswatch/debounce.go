package fswatch

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncer batches rapid filesystem events, collapsing a burst down to one
// event per path (see foldByPath) before the callback ever sees it, and
// ensures callbacks don't overlap. The per-path fold replaces what recursive.go
// used to do itself after every flush (recursive watcher batches routinely
// contain several fsnotify.Write events for one path in a row; only the
// last one matters for a reset decision).
type debouncer struct {
	duration time.Duration
	callback func([]fsnotify.Event)

	mu       sync.Mutex
	timer    *time.Timer
	events   []fsnotify.Event
	pending  []fsnotify.Event
	inFlight bool
	stopped  bool
}

func newDebouncer(d time.Duration, cb func([]fsnotify.Event)) *debouncer {
	return &debouncer{duration: d, callback: cb}
}

func (d *debouncer) add(evt fsnotify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.events = append(d.events, evt)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	events := d.events
	d.events = nil
	if len(events) == 0 {
		d.mu.Unlock()
		return
	}

	if d.inFlight {
		d.pending = append(d.pending, events...)
		d.mu.Unlock()
		return
	}

	d.inFlight = true
	d.mu.Unlock()

	d.callback(foldByPath(events))

	d.mu.Lock()
	d.inFlight = false
	if len(d.pending) > 0 && !d.stopped {
		d.events = d.pending
		d.pending = nil
		d.timer = time.AfterFunc(d.duration, d.flush)
	}
	d.mu.Unlock()
}

// foldByPath collapses a batch down to the latest event per path, the same
// fold the recursive watcher applied to every debounced batch before this
// was pulled into the debouncer itself. One exception mirrors the change
// log's rule that change never overwrites add or unlink: a Write or Chmod
// does not replace an earlier Create, Remove or Rename for the same path,
// so a file created and then written in one burst still reports Create.
func foldByPath(evts []fsnotify.Event) []fsnotify.Event {
	const structural = fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	latest := make(map[string]fsnotify.Event, len(evts))
	var order []string
	for _, e := range evts {
		prev, ok := latest[e.Name]
		if !ok {
			order = append(order, e.Name)
		} else if e.Op&structural == 0 && prev.Op&structural != 0 {
			continue
		}
		latest[e.Name] = e
	}
	out := make([]fsnotify.Event, len(order))
	for i, name := range order {
		out[i] = latest[name]
	}
	return out
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.events = nil
	d.pending = nil
}
