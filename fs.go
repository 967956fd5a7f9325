package fsgen

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vormadev/fsgen/internal/fserr"
	"github.com/vormadev/fsgen/internal/globutil"
	"github.com/vormadev/fsgen/internal/patternset"
	"github.com/vormadev/fsgen/internal/registry"
)

// defaultIgnore is folded into every Scan enumeration and Scan pattern
// registration alongside any caller-supplied ignore list, mirroring the
// teacher's setupPatterns excludes for .git and node_modules. List and
// FindUp do not apply it.
var defaultIgnore = []string{"**/.git/**", "**/node_modules/**"}

// FS is the filesystem facade (component C6): the only surface through
// which a generator body touches disk. Every call that establishes a
// dependency updates the owning engine's watch registry before (or
// instead of) performing the underlying I/O.
type FS struct {
	engine *Engine
}

func newFS(e *Engine) *FS {
	return &FS{engine: e}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (f *FS) resolveCwd(cwd string) string {
	if cwd == "" {
		return f.engine.root
	}
	return globutil.Normalize(f.engine.root, cwd)
}

func (f *FS) wantWatch(explicit *bool) bool {
	return f.engine.watchMode && boolOr(explicit, true)
}

// ScanOptions controls fs.Scan.
type ScanOptions struct {
	Cwd                 string
	Watch               *bool
	IgnoreEmptyNewFiles  bool
	AcceptChangeEvents   bool
	Dot                  bool
	CaseInsensitive      bool
	Ignore               []string
	Absolute             bool
}

// Scan enumerates every path under opts.Cwd (default root) matching any of
// globs, honoring opts.Ignore, and — unless opts.Watch is explicitly false —
// registers the patterns so a matching filesystem event reruns the
// generator.
func (f *FS) Scan(globs []string, opts ScanOptions) ([]string, error) {
	cwd := f.resolveCwd(opts.Cwd)
	ignore := append(append([]string{}, defaultIgnore...), opts.Ignore...)

	if f.wantWatch(opts.Watch) {
		patOpts := patternset.Options{
			Cwd:                 cwd,
			IgnoreEmptyNewFiles: opts.IgnoreEmptyNewFiles,
			AcceptChangeEvents:  opts.AcceptChangeEvents,
			Dot:                 opts.Dot,
			CaseInsensitive:     opts.CaseInsensitive,
		}
		if err := f.engine.patterns.AddIgnore(ignore, patOpts); err != nil {
			return nil, fserr.New(fserr.KindInternal, "fs.Scan", cwd, err)
		}
		added, err := f.engine.patterns.Add(globs, patOpts)
		if err != nil {
			return nil, fserr.New(fserr.KindInternal, "fs.Scan", cwd, err)
		}
		for _, entry := range added {
			if entry.Base == "" {
				continue
			}
			if err := f.engine.recursive.AddPath(entry.Base); err != nil {
				return nil, fserr.New(fserr.KindIO, "fs.Scan", entry.Base, err)
			}
		}
	}

	matches, err := globWalk(cwd, globs, ignore, opts.Dot)
	if err != nil {
		return nil, fserr.New(fserr.KindIO, "fs.Scan", cwd, err)
	}

	if opts.Absolute {
		abs := make([]string, len(matches))
		for i, m := range matches {
			abs[i] = filepath.Join(cwd, filepath.FromSlash(m))
		}
		return abs, nil
	}
	return matches, nil
}

// globWalk enumerates every distinct match of globs rooted at cwd, dropping
// anything covered by ignore.
func globWalk(cwd string, globs []string, ignore []string, dot bool) ([]string, error) {
	if _, err := os.Stat(cwd); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	ignorePreds := make([]globutil.Predicate, 0, len(ignore))
	for _, pat := range ignore {
		pred, err := globutil.Compile(cwd, pat, globutil.PredicateOptions{Dot: true})
		if err != nil {
			return nil, err
		}
		ignorePreds = append(ignorePreds, pred)
	}

	fsys := os.DirFS(cwd)
	seen := make(map[string]bool)
	var out []string
	for _, g := range globs {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(g))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			if !dot && hasHiddenSegment(m) {
				continue
			}
			abs := filepath.Join(cwd, filepath.FromSlash(m))
			ignored := false
			for _, pred := range ignorePreds {
				if pred(abs) {
					ignored = true
					break
				}
			}
			if ignored {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

func hasHiddenSegment(relPath string) bool {
	for _, seg := range splitSlash(relPath) {
		if len(seg) > 0 && seg[0] == '.' {
			return true
		}
	}
	return false
}

func splitSlash(p string) []string {
	p = filepath.ToSlash(p)
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}

// FindUpOptions controls fs.FindUp. Stop may be expressed as an absolute
// directory (StopAt), a set of globs checked in the current directory
// (StopGlobs), or an arbitrary predicate (StopFunc). If more than one is
// set, the walk stops at the first directory where any of them holds.
type FindUpOptions struct {
	Cwd       string
	Absolute  bool
	StopAt    string
	StopGlobs []string
	StopFunc  func(dir string) bool
}

// FindUp walks upward from opts.Cwd (default root) directory by directory,
// returning the first entry matching any of globs. found is false if the
// walk reaches the filesystem root, or the stop condition, without a match.
func (f *FS) FindUp(globs []string, opts FindUpOptions) (path string, found bool, err error) {
	dir := f.resolveCwd(opts.Cwd)
	watch := f.engine.watchMode

	for {
		if watch {
			all := append(append([]string{}, globs...), opts.StopGlobs...)
			if _, err := f.engine.patterns.Add(all, patternset.Options{
				Cwd:                    dir,
				NoGlobstarOrSeparators: true,
			}); err == nil {
				_ = f.engine.recursive.AddPath(dir)
			}
		}

		entries, readErr := os.ReadDir(dir)
		switch {
		case readErr == nil:
			for _, entry := range entries {
				name := entry.Name()
				for _, g := range globs {
					ok, _ := doublestar.Match(g, name)
					if ok {
						abs := filepath.Join(dir, name)
						if opts.Absolute {
							return abs, true, nil
						}
						rel := f.engine.relPath(abs)
						return rel, true, nil
					}
				}
			}
		case !os.IsNotExist(readErr):
			return "", false, fserr.New(fserr.KindIO, "fs.FindUp", dir, readErr)
		}

		if opts.StopAt != "" && dir == filepath.Clean(opts.StopAt) {
			return "", false, nil
		}
		if opts.StopFunc != nil && opts.StopFunc(dir) {
			return "", false, nil
		}
		if len(opts.StopGlobs) > 0 && dirHasAny(entries, opts.StopGlobs) {
			return "", false, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

func dirHasAny(entries []os.DirEntry, globs []string) bool {
	for _, entry := range entries {
		for _, g := range globs {
			if ok, _ := doublestar.Match(g, entry.Name()); ok {
				return true
			}
		}
	}
	return false
}

// ListOptions controls fs.List.
type ListOptions struct {
	Glob            string // default "*"
	Absolute        bool
	Watch           *bool
	Dot             bool
	CaseInsensitive bool
}

// List reads one directory (relative to root unless absolute) and returns
// entries matching opts.Glob, registering a dir/glob listing pattern unless
// opts.Watch is explicitly false.
func (f *FS) List(dir string, opts ListOptions) ([]string, error) {
	glob := opts.Glob
	if glob == "" {
		glob = "*"
	}
	abs := globutil.Normalize(f.engine.root, dir)

	if f.wantWatch(opts.Watch) {
		pattern := filepath.ToSlash(filepath.Join(abs, glob))
		if _, err := f.engine.patterns.Add([]string{pattern}, patternset.Options{
			Cwd:                    abs,
			Dot:                    opts.Dot,
			CaseInsensitive:        opts.CaseInsensitive,
			NoGlobstarOrSeparators: true,
		}); err == nil {
			_ = f.engine.recursive.AddPath(abs)
		}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fserr.New(fserr.KindIO, "fs.List", abs, err)
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !opts.Dot && len(name) > 0 && name[0] == '.' {
			continue
		}
		ok, _ := doublestar.Match(glob, name)
		if !ok {
			continue
		}
		if opts.Absolute {
			out = append(out, filepath.Join(abs, name))
		} else {
			out = append(out, name)
		}
	}
	return out, nil
}

// ReadOptions controls fs.Read and fs.TryRead.
type ReadOptions struct {
	Critical bool
}

func (f *FS) addFileDep(abs string, critical bool) error {
	if !f.engine.watchMode {
		return nil
	}
	return f.engine.reg.AddFile(abs, registry.AddFileOptions{Critical: critical})
}

// Read reads path (relative to root unless absolute), registering it as a
// dependency first. I/O failures are surfaced as an error.
func (f *FS) Read(path string, opts ReadOptions) ([]byte, error) {
	abs := globutil.Normalize(f.engine.root, path)
	if err := f.addFileDep(abs, opts.Critical); err != nil {
		return nil, fserr.New(fserr.KindIO, "fs.Read", abs, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fserr.New(fserr.KindNotFound, "fs.Read", abs, err)
		}
		return nil, fserr.New(fserr.KindIO, "fs.Read", abs, err)
	}
	return data, nil
}

// TryRead is Read but folds any I/O failure into a nil result.
func (f *FS) TryRead(path string, opts ReadOptions) []byte {
	data, err := f.Read(path, opts)
	if err != nil {
		return nil
	}
	return data
}

// ReadString is Read decoded as UTF-8 text.
func (f *FS) ReadString(path string, opts ReadOptions) (string, error) {
	data, err := f.Read(path, opts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TryReadString is TryRead decoded as UTF-8 text; "" on failure.
func (f *FS) TryReadString(path string, opts ReadOptions) string {
	data := f.TryRead(path, opts)
	return string(data)
}

// Stat registers path as a dependency and stats it, returning (nil, nil)
// when it does not exist.
func (f *FS) Stat(path string) (os.FileInfo, error) {
	return f.statOrLstat(path, false)
}

// Lstat is Stat without following a terminal symlink.
func (f *FS) Lstat(path string) (os.FileInfo, error) {
	return f.statOrLstat(path, true)
}

func (f *FS) statOrLstat(path string, linkless bool) (os.FileInfo, error) {
	abs := globutil.Normalize(f.engine.root, path)
	if err := f.addFileDep(abs, false); err != nil {
		return nil, fserr.New(fserr.KindIO, "fs.Stat", abs, err)
	}
	var info os.FileInfo
	var err error
	if linkless {
		info, err = os.Lstat(abs)
	} else {
		info, err = os.Stat(abs)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fserr.New(fserr.KindIO, "fs.Stat", abs, err)
	}
	return info, nil
}

func (f *FS) watchExistence(abs string, kind registry.ExistenceKind) {
	if !f.engine.watchMode {
		return
	}
	_ = f.engine.reg.WatchExistence(abs, kind)
}

// Exists reports whether path currently exists (any type), registering an
// existence-only watch.
func (f *FS) Exists(path string) bool {
	abs := globutil.Normalize(f.engine.root, path)
	f.watchExistence(abs, registry.ExistenceGeneric)
	return globutil.Exists(abs)
}

// FileExists reports whether path exists and is a regular file.
func (f *FS) FileExists(path string) bool {
	abs := globutil.Normalize(f.engine.root, path)
	f.watchExistence(abs, registry.ExistenceFile)
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// DirectoryExists reports whether path exists and is a directory.
func (f *FS) DirectoryExists(path string) bool {
	abs := globutil.Normalize(f.engine.root, path)
	f.watchExistence(abs, registry.ExistenceDirectory)
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

// SymlinkExists reports whether path exists (as any type, without
// following a terminal symlink).
func (f *FS) SymlinkExists(path string) bool {
	abs := globutil.Normalize(f.engine.root, path)
	f.watchExistence(abs, registry.ExistenceGeneric)
	_, err := os.Lstat(abs)
	return err == nil
}

// Write writes data to path, creating parent directories as needed. If the
// existing on-disk content is already byte-identical, no write is
// performed and no "write" event is emitted. Writing is not itself a
// self-dependency.
func (f *FS) Write(path string, data []byte) error {
	abs := globutil.Normalize(f.engine.root, path)

	existing, err := os.ReadFile(abs)
	if err == nil && bytes.Equal(existing, data) {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fserr.New(fserr.KindIO, "fs.Write", abs, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fserr.New(fserr.KindIO, "fs.Write", abs, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fserr.New(fserr.KindIO, "fs.Write", abs, err)
	}

	f.engine.events.emit(Event{Type: EventWrite, Name: f.engine.name, Path: f.engine.relPath(abs)})
	return nil
}

// WriteString is Write for text content.
func (f *FS) WriteString(path, data string) error {
	return f.Write(path, []byte(data))
}

// WatchOptions controls fs.Watch.
type WatchOptions struct {
	Cause string
}

// Watch registers each of paths as an explicit dependency without reading
// them. A nonempty opts.Cause makes this associative ("blamed") watching:
// changes to paths are reported under Cause instead. A no-op outside watch
// mode.
func (f *FS) Watch(paths []string, opts WatchOptions) error {
	if !f.engine.watchMode {
		return nil
	}
	for _, p := range paths {
		abs := globutil.Normalize(f.engine.root, p)
		if err := f.engine.reg.AddFile(abs, registry.AddFileOptions{Cause: opts.Cause}); err != nil {
			return fserr.New(fserr.KindIO, "fs.Watch", abs, err)
		}
	}
	return nil
}
