package fswatch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ExistenceQueries is the subset of the watch registry the existence
// watcher needs.
type ExistenceQueries interface {
	IsExistenceWatched(absPath string) bool
}

// Existence is the existence watcher (component C4): a depth-0 subscription
// dedicated to exists/fileExists/directoryExists/symlinkExists probes. It
// suppresses "change" entirely and only emits add/unlink.
type Existence struct {
	fsw     *fsnotify.Watcher
	queries ExistenceQueries

	mu      sync.Mutex
	probes  map[string]bool // absPath -> already holds a subscription
	watched map[string]int  // parent dir -> number of distinct probes relying on it

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewExistence(queries ExistenceQueries) (*Existence, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	e := &Existence{
		fsw:     fsw,
		queries: queries,
		probes:  make(map[string]bool),
		watched: make(map[string]int),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go e.loop()
	return e, nil
}

func (e *Existence) Events() <-chan Event  { return e.events }
func (e *Existence) Done() <-chan struct{} { return e.done }

func (e *Existence) loop() {
	for {
		select {
		case evt, ok := <-e.fsw.Events:
			if !ok {
				return
			}
			e.process(evt)
		case <-e.fsw.Errors:
			// existence probes never surface transport errors as fatal;
			// the recursive watcher's error channel is the one forwarded.
		case <-e.done:
			return
		}
	}
}

// AddPath subscribes to the parent directory of absPath at depth 0 (no
// recursive walk — existence probes only ever need to know about their own
// entry appearing or disappearing in one directory). Repeat calls for the
// same absPath are idempotent; distinct probe paths sharing one parent each
// count toward that parent's reference count, so one probe's RemovePath
// can't blind a sibling probe still watching the same directory.
func (e *Existence) AddPath(absPath string) error {
	e.mu.Lock()
	if e.probes[absPath] {
		e.mu.Unlock()
		return nil
	}
	parent := filepath.Dir(absPath)
	needsSubscribe := e.watched[parent] == 0
	e.mu.Unlock()

	if needsSubscribe {
		if err := e.fsw.Add(parent); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.probes[absPath] = true
	e.watched[parent]++
	e.mu.Unlock()
	return nil
}

// RemovePath releases absPath's hold on its parent directory's subscription,
// only tearing down the fsnotify subscription itself once no other probe
// under that parent still needs it.
func (e *Existence) RemovePath(absPath string) {
	e.mu.Lock()
	if !e.probes[absPath] {
		e.mu.Unlock()
		return
	}
	delete(e.probes, absPath)
	parent := filepath.Dir(absPath)
	e.watched[parent]--
	lastProbe := e.watched[parent] <= 0
	if lastProbe {
		delete(e.watched, parent)
	}
	e.mu.Unlock()

	if lastProbe {
		_ = e.fsw.Remove(parent)
	}
}

func (e *Existence) process(evt fsnotify.Event) {
	absPath := evt.Name
	if !filepath.IsAbs(absPath) {
		if abs, err := filepath.Abs(absPath); err == nil {
			absPath = abs
		}
	}

	if !e.queries.IsExistenceWatched(absPath) {
		return
	}

	switch {
	case evt.Has(fsnotify.Create):
		kind := Add
		if info, err := os.Stat(absPath); err == nil && info.IsDir() {
			kind = AddDir
		}
		e.emit(Event{Kind: kind, AbsPath: absPath})
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		e.emit(Event{Kind: Unlink, AbsPath: absPath})
	}
	// fsnotify.Write (content change) is never surfaced: existence probes
	// only ever watch for the entry appearing or disappearing.
}

func (e *Existence) emit(evt Event) {
	select {
	case e.events <- evt:
	case <-e.done:
	}
}

func (e *Existence) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return e.fsw.Close()
}
