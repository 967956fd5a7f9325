package fswatch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/fsgen/internal/patternset"
)

// ignoredDirNames are skipped during a recursive directory walk regardless
// of any registered pattern, the same hardcoded excludes the teacher's
// setupPatterns bakes in (globGit, globNodeModules).
var ignoredDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Queries is the subset of the watch registry the recursive watcher needs
// to decide whether a raw fsnotify event is of interest.
type Queries interface {
	IsWatched(absPath string) bool
	CheckAddedPath(absPath string)
}

// Recursive is the recursive watcher (component C3): it subscribes to
// filesystem events for every base of interest and every raw watched file,
// filters them through the pattern registry and watch registry, and emits
// normalized events.
type Recursive struct {
	fsw     *fsnotify.Watcher
	log     *slog.Logger
	queries Queries
	patterns *patternset.Set

	mu          sync.Mutex
	watchedDirs map[string]bool
	rawFiles    map[string]bool

	events chan Event
	errors chan error

	debouncer *debouncer
	closeOnce sync.Once
	done      chan struct{}
}

func NewRecursive(queries Queries, patterns *patternset.Set, log *slog.Logger) (*Recursive, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	r := &Recursive{
		fsw:         fsw,
		log:         log,
		queries:     queries,
		patterns:    patterns,
		watchedDirs: make(map[string]bool),
		rawFiles:    make(map[string]bool),
		events:      make(chan Event, 64),
		errors:      make(chan error, 8),
		done:        make(chan struct{}),
	}
	r.debouncer = newDebouncer(30*time.Millisecond, r.processEvents)
	go r.loop()
	return r, nil
}

func (r *Recursive) Events() <-chan Event   { return r.events }
func (r *Recursive) Errors() <-chan error   { return r.errors }
func (r *Recursive) Done() <-chan struct{}  { return r.done }

func (r *Recursive) loop() {
	for {
		select {
		case evt, ok := <-r.fsw.Events:
			if !ok {
				return
			}
			r.debouncer.add(evt)
		case err, ok := <-r.fsw.Errors:
			if !ok {
				return
			}
			select {
			case r.errors <- err:
			default:
			}
		case <-r.done:
			return
		}
	}
}

// AddPath subscribes to absPath: if it currently exists as a directory, it
// walks and watches every non-ignored subdirectory; otherwise (a file, or a
// path that does not exist yet) it watches the parent directory, which
// delivers the file's own events and its eventual creation, and records an
// existing file in rawFiles. It fails if the parent directory is missing.
func (r *Recursive) AddPath(absPath string) error {
	info, statErr := os.Stat(absPath)
	if statErr == nil && info.IsDir() {
		return r.addDirTree(absPath)
	}

	parent := filepath.Dir(absPath)
	if err := r.addDir(parent); err != nil {
		return err
	}
	if statErr == nil {
		r.mu.Lock()
		r.rawFiles[absPath] = true
		r.mu.Unlock()
	}
	return nil
}

// RemovePath releases the OS-level subscription for absPath. If absPath was
// registered as a directory tree, every subdirectory beneath it is released
// too.
func (r *Recursive) RemovePath(absPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watchedDirs[absPath] {
		prefix := absPath + string(filepath.Separator)
		for dir := range r.watchedDirs {
			if dir == absPath || strings.HasPrefix(dir, prefix) {
				_ = r.fsw.Remove(dir)
				delete(r.watchedDirs, dir)
			}
		}
		return
	}

	delete(r.rawFiles, absPath)
	_ = r.fsw.Remove(absPath)
}

func (r *Recursive) addDir(dir string) error {
	r.mu.Lock()
	already := r.watchedDirs[dir]
	r.mu.Unlock()
	if already {
		return nil
	}
	if err := r.fsw.Add(dir); err != nil {
		return err
	}
	r.mu.Lock()
	r.watchedDirs[dir] = true
	r.mu.Unlock()
	return nil
}

func (r *Recursive) addDirTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if ignoredDirNames[d.Name()] {
			return filepath.SkipDir
		}
		return r.addDir(path)
	})
}

// RemoveStale drops watches for directories that no longer exist, called
// after processing a batch of events (mirrors the teacher's
// Watcher.RemoveStale).
func (r *Recursive) RemoveStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dir := range r.watchedDirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			_ = r.fsw.Remove(dir)
			delete(r.watchedDirs, dir)
		}
	}
}

// processEvents handles one debounced, already-per-path-deduped batch.
func (r *Recursive) processEvents(evts []fsnotify.Event) {
	for _, evt := range evts {
		r.processOne(evt)
	}
	r.RemoveStale()
}

func (r *Recursive) processOne(evt fsnotify.Event) {
	absPath := evt.Name
	if !filepath.IsAbs(absPath) {
		if abs, err := filepath.Abs(absPath); err == nil {
			absPath = abs
		}
	}

	info, statErr := os.Stat(absPath)
	isDir := statErr == nil && info.IsDir()

	if isDir && (evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename)) {
		if !ignoredDirNames[filepath.Base(absPath)] {
			_ = r.addDirTree(absPath)
		}
	}

	if !r.isOfInterest(absPath) {
		return
	}

	switch {
	case evt.Has(fsnotify.Create):
		kind := Add
		if isDir {
			kind = AddDir
		}
		if r.suppressEmptyAdd(absPath, kind, info) {
			return
		}
		r.queries.CheckAddedPath(absPath)
		r.emit(Event{Kind: kind, AbsPath: absPath})
	case evt.Has(fsnotify.Write):
		if isDir {
			return
		}
		if r.suppressChange(absPath) {
			return
		}
		r.emit(Event{Kind: Change, AbsPath: absPath})
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		kind := Unlink
		if r.wasDir(absPath) {
			kind = UnlinkDir
		}
		r.emit(Event{Kind: kind, AbsPath: absPath})
	}
}

func (r *Recursive) wasDir(absPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watchedDirs[absPath]
}

func (r *Recursive) isOfInterest(absPath string) bool {
	if r.queries.IsWatched(absPath) {
		return true
	}
	r.mu.Lock()
	_, isFallbackDir := r.watchedDirs[absPath]
	r.mu.Unlock()
	if isFallbackDir {
		return true
	}
	return r.patterns.Match(absPath)
}

// suppressEmptyAdd implements §4.3's "add" fold rule: suppressed if the
// path is not explicitly watched and every applicable matcher requested
// ignoreEmptyNewFiles and the file is currently zero bytes.
func (r *Recursive) suppressEmptyAdd(absPath string, kind Kind, info os.FileInfo) bool {
	if kind != Add {
		return false
	}
	if r.queries.IsWatched(absPath) {
		return false
	}
	entries := r.patterns.EntriesFor(absPath)
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if !e.IgnoreEmptyNewFiles {
			return false
		}
	}
	return info != nil && info.Size() == 0
}

// suppressChange implements §4.3's "change" fold rule: suppressed if the
// path is not explicitly watched and no applicable matcher accepts change
// events.
func (r *Recursive) suppressChange(absPath string) bool {
	if r.queries.IsWatched(absPath) {
		return false
	}
	entries := r.patterns.EntriesFor(absPath)
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.AcceptChangeEvents {
			return false
		}
	}
	return true
}

func (r *Recursive) emit(e Event) {
	select {
	case r.events <- e:
	case <-r.done:
	}
}

func (r *Recursive) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.debouncer.stop()
	})
	return r.fsw.Close()
}
