// Package fsgen is a reactive filesystem access engine for build-time code
// generators: the sole surface through which a generator touches the
// filesystem, so that every read, scan, listing, and watch registration is
// tracked and a change to a real dependency reruns the generator exactly
// once, with a folded, blamed changes list attached to the context.
package fsgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vormadev/fsgen/internal/changelog"
	"github.com/vormadev/fsgen/internal/enginelog"
	"github.com/vormadev/fsgen/internal/fserr"
	"github.com/vormadev/fsgen/internal/fswatch"
	"github.com/vormadev/fsgen/internal/patternset"
	"github.com/vormadev/fsgen/internal/registry"
	"github.com/vormadev/fsgen/internal/runloop"

	"log/slog"
)

// Body is the user's generator function. It receives a Context bound to the
// current run and returns a result (surfaced on "finish") or an error
// (surfaced on "error", unless it is an abort signal from ctx.Signal).
type Body func(ctx *Context) (any, error)

// Options configures a new Engine. Root, Watch, Name, Logger, and Events all
// have usable defaults; only Body is required.
type Options struct {
	Root string
	Body Body

	// Watch enables watch mode: filesystem events reschedule a rerun.
	Watch bool
	// InitialWatch seeds the watch registry before the first run — literal
	// paths are added directly, globs are registered as patterns. A
	// nonempty InitialWatch forces Watch on. Entries may not start with
	// "!" (negative-only initial watches make no sense without a positive
	// counterpart to negate).
	InitialWatch []string

	Name   string
	Logger *slog.Logger
	// Events lets the caller share one emitter across engines; Compose
	// uses this to wire children together instead of exposing it directly.
	Events *Bus
}

var engineSeq atomic.Int64

func nextEngineName() string {
	return fmt.Sprintf("engine-%d", engineSeq.Add(1))
}

// State mirrors the run lifecycle's three states.
type State int

const (
	StatePending State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	return runloop.State(s).String()
}

// Engine is a single reactive generator: one Body, run at most once at a
// time, rerun on relevant filesystem changes when built with Watch.
type Engine struct {
	root string
	name string
	body Body

	log    *slog.Logger
	events *Bus

	watchMode bool

	patterns  *patternset.Set
	reg       *registry.Registry
	recursive *fswatch.Recursive
	existence *fswatch.Existence
	clog      *changelog.Log
	fs        *FS
	watcher   *WatcherView

	loop *runloop.Loop

	initialWatch []string

	// store, changes, and firstRun are mutated only from the loop's single
	// goroutine (inside runBody, or the reset that precedes it) and are
	// never touched concurrently — see §5 of the base spec's concurrency
	// model.
	store    map[string]any
	changes  []Change
	firstRun bool

	watchReady chan struct{}
}

// New builds and starts an engine. The first run is scheduled immediately
// on the run loop's goroutine, which New starts before it returns, so
// "start" (and even "finish") can fire before New returns. A subscriber
// attached to e.Events() after New returns can miss them; one attached to
// a bus passed in as Options.Events before calling New observes them.
func New(opts Options) (*Engine, error) {
	if opts.Body == nil {
		return nil, fserr.New(fserr.KindInternal, "fsgen.New", "", fmt.Errorf("Options.Body is required"))
	}

	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fserr.New(fserr.KindIO, "fsgen.New", "", err)
		}
		root = wd
	}
	root = strings.TrimRight(filepath.Clean(root), string(filepath.Separator))
	if root == "" {
		root = string(filepath.Separator)
	}

	for _, p := range opts.InitialWatch {
		if strings.HasPrefix(p, "!") {
			panic(fmt.Sprintf("fsgen.New: InitialWatch entry %q may not start with '!' (InitialWatch has no ignore-pattern notion)", p))
		}
	}

	name := opts.Name
	if name == "" {
		name = nextEngineName()
	}

	events := opts.Events
	if events == nil {
		events = NewBus()
	}

	log := opts.Logger
	if log == nil {
		log = enginelog.New(name)
	}

	e := &Engine{
		root:         root,
		name:         name,
		body:         opts.Body,
		log:          log,
		events:       events,
		watchMode:    opts.Watch || len(opts.InitialWatch) > 0,
		clog:         changelog.New(),
		initialWatch: opts.InitialWatch,
		store:        make(map[string]any),
		firstRun:     true,
	}

	if e.watchMode {
		if err := e.buildWatchers(); err != nil {
			return nil, err
		}
		for _, p := range e.initialWatch {
			if err := e.registerInitial(p); err != nil {
				e.closeWatchers()
				return nil, err
			}
		}
		e.watcher = &WatcherView{engine: e}
		close(e.watchReady)
		go e.pump(e.recursive, e.existence)
	}

	e.fs = newFS(e)

	e.loop = runloop.New(e.runBody, runloop.Hooks{
		OnStart: func() {
			e.log.Debug("start", "engine", e.name)
			e.events.emit(Event{Type: EventStart, Name: e.name})
		},
		OnFinish: func(result any) {
			e.log.Debug("finish", "engine", e.name)
			e.events.emit(Event{Type: EventFinish, Name: e.name, Result: result})
		},
		OnError: func(err error) {
			e.log.Error("run failed", "engine", e.name, "err", err)
			e.events.emit(Event{Type: EventError, Name: e.name, Err: err})
		},
		OnAbort: func(reason string) {
			e.log.Debug("abort", "engine", e.name, "reason", reason)
			e.events.emit(Event{Type: EventAbort, Name: e.name, Reason: reason})
		},
		OnDestroy: func() {
			e.closeWatchers()
			e.log.Debug("destroy", "engine", e.name)
			e.events.emit(Event{Type: EventDestroy, Name: e.name})
		},
	})
	e.loop.Go()

	return e, nil
}

func (e *Engine) buildWatchers() error {
	e.patterns = patternset.New()
	e.reg = registry.New(nil, nil)

	rec, err := fswatch.NewRecursive(e.reg, e.patterns, e.log)
	if err != nil {
		return fserr.New(fserr.KindIO, "fsgen.New", "", err)
	}
	exist, err := fswatch.NewExistence(e.reg)
	if err != nil {
		rec.Close()
		return fserr.New(fserr.KindIO, "fsgen.New", "", err)
	}

	e.reg.SetWatchers(rec, exist)
	e.recursive = rec
	e.existence = exist
	e.watchReady = make(chan struct{})
	return nil
}

func (e *Engine) closeWatchers() {
	if !e.watchMode || e.reg == nil {
		return
	}
	e.reg.Close()
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// registerInitial adds one Options.InitialWatch entry before the first run:
// a literal path is registered as an explicit dependency, a glob is
// registered as a pattern and its base subscribed.
func (e *Engine) registerInitial(p string) error {
	abs := filepath.Clean(filepath.Join(e.root, filepath.FromSlash(p)))
	if filepath.IsAbs(filepath.FromSlash(p)) {
		abs = filepath.Clean(filepath.FromSlash(p))
	}

	if !hasGlobMeta(p) {
		return e.reg.AddFile(abs, registry.AddFileOptions{})
	}

	added, err := e.patterns.Add([]string{p}, patternset.Options{Cwd: e.root})
	if err != nil {
		return fserr.New(fserr.KindInternal, "fsgen.New", p, err)
	}
	for _, entry := range added {
		if err := e.recursive.AddPath(entry.Base); err != nil {
			return fserr.New(fserr.KindIO, "fsgen.New", entry.Base, err)
		}
	}
	return nil
}

func (e *Engine) relPath(abs string) string {
	rel, err := filepath.Rel(e.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// runBody is the runloop.RunFunc: it performs the reset decision (on every
// run after the first), builds the Context, and invokes the user body.
func (e *Engine) runBody(tok *runloop.Token) (any, error) {
	if !e.firstRun {
		e.resetBeforeRun()
	}
	e.firstRun = false

	ctx := &Context{
		Root:    e.root,
		Store:   e.store,
		Changes: e.changes,
		Signal:  tok.Context(),
		Events:  e.events,
		Watcher: e.watcher,
		FS:      e.fs,
		name:    e.name,
	}

	return e.body(ctx)
}

// resetBeforeRun implements §4.8's reset decision: hard iff any folded
// change maps to a critical file, soft otherwise.
func (e *Engine) resetBeforeRun() {
	if e.reg == nil {
		e.changes = nil
		return
	}

	hard := false
	for _, entry := range e.clog.Peek() {
		if e.reg.IsFileCritical(entry.AbsPath) {
			hard = true
			break
		}
	}

	drained := e.clog.Drain(e.reg.Blame, e.relPath)

	if hard {
		e.hardReset()
	} else {
		e.softReset(drained)
	}

	e.changes = make([]Change, 0, len(drained))
	for _, d := range drained {
		e.changes = append(e.changes, Change{Event: d.Kind.String(), File: d.RelPath})
	}
}

func (e *Engine) softReset(drained []changelog.Entry) {
	for _, d := range drained {
		if d.Kind == changelog.Add {
			continue
		}
		e.reg.Unwatch(d.AbsPath, e.patterns.Match)
	}
}

// hardReset clears the store and rebuilds the watch registry and recursive
// subscriptions from scratch, re-seeding only Options.InitialWatch.
func (e *Engine) hardReset() {
	e.store = make(map[string]any)

	oldRec, oldExist, oldReg := e.recursive, e.existence, e.reg
	if err := e.buildWatchers(); err != nil {
		e.log.Error("hard reset failed to rebuild watchers", "engine", e.name, "err", err)
		e.recursive, e.existence, e.reg = oldRec, oldExist, oldReg
		return
	}
	if oldReg != nil {
		oldReg.Close()
	}

	for _, p := range e.initialWatch {
		if err := e.registerInitial(p); err != nil {
			e.log.Error("hard reset failed to re-register initial watch", "engine", e.name, "path", p, "err", err)
		}
	}

	close(e.watchReady)
	go e.pump(e.recursive, e.existence)
}

// pump drains one watcher generation's channels and folds every normalized
// event into the change log, notifying the run loop of each relevant one.
// It exits once the recursive watcher's Done channel closes, which happens
// when hardReset or Destroy closes that watcher.
func (e *Engine) pump(rec *fswatch.Recursive, exist *fswatch.Existence) {
	for {
		select {
		case evt, ok := <-rec.Events():
			if !ok {
				return
			}
			e.handleEvent(evt)
		case err, ok := <-rec.Errors():
			if !ok {
				continue
			}
			e.log.Error("watch error", "engine", e.name, "err", err)
			e.events.emit(Event{Type: EventError, Name: e.name, Err: err})
		case evt, ok := <-exist.Events():
			if !ok {
				return
			}
			e.handleEvent(evt)
		case <-rec.Done():
			return
		}
	}
}

func (e *Engine) handleEvent(evt fswatch.Event) {
	kind, watchKind := foldKind(evt.Kind)
	rel := e.relPath(evt.AbsPath)

	e.clog.Record(evt.AbsPath, rel, kind)
	e.events.emit(Event{Type: EventWatch, Name: e.name, WatchKind: watchKind, Path: rel})

	if err := e.loop.NotifyChange(); err != nil && !fserr.IsAbort(err) {
		e.log.Debug("notify after destroy ignored", "engine", e.name, "err", err)
	}
}

func foldKind(k fswatch.Kind) (changelog.Kind, WatchKind) {
	switch k {
	case fswatch.Add:
		return changelog.Add, WatchAdd
	case fswatch.AddDir:
		return changelog.Add, WatchAddDir
	case fswatch.Change:
		return changelog.Change, WatchChange
	case fswatch.UnlinkDir:
		return changelog.Unlink, WatchUnlinkDir
	default:
		return changelog.Unlink, WatchUnlink
	}
}

// Name reports the engine's label, as attached to every typed event.
func (e *Engine) Name() string { return e.name }

// Events returns the emitter this engine publishes on.
func (e *Engine) Events() *Bus { return e.events }

// Watcher exposes ready/watchedFiles/blamedFiles; only non-nil in watch
// mode.
func (e *Engine) Watcher() *WatcherView { return e.watcher }

// Status reports the current lifecycle state.
func (e *Engine) Status() State { return State(e.loop.Status()) }

// Err returns the error of the most recently finished non-aborted run, or
// nil if that run succeeded or no run has finished yet.
func (e *Engine) Err() error { return e.loop.Err() }

// Result returns the value from the most recently finished successful run.
func (e *Engine) Result() any { return e.loop.Result() }

// WaitForStart resolves once the next "start" fires, or returns a timeout
// error if timeout elapses first (timeout<=0 waits forever).
func (e *Engine) WaitForStart(timeout time.Duration) error {
	return e.loop.WaitForStart(timeout)
}

// Rerun schedules an immediate run, aborting one in progress, and blocks
// until the resulting run's "start" fires.
func (e *Engine) Rerun() error { return e.loop.Rerun() }

// Destroy aborts any running body, closes every OS watcher, emits
// "destroy", and blocks until teardown completes. The engine is terminal
// afterward; Rerun and WaitForStart return fserr.ErrDestroyed.
func (e *Engine) Destroy() { e.loop.Destroy() }

// WatchedFiles returns a snapshot of every path the generator explicitly
// depends on. Empty outside watch mode.
func (e *Engine) WatchedFiles() []string {
	if e.reg == nil {
		return nil
	}
	return e.reg.WatchedFiles()
}

// BlamedFiles returns a snapshot of the blame mapping.
func (e *Engine) BlamedFiles() map[string][]string {
	if e.reg == nil {
		return nil
	}
	return e.reg.BlamedFiles()
}
