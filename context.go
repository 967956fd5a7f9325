package fsgen

import "context"

// Change is one folded, blame-resolved dependency change delivered to the
// generator body before every run after the first.
type Change struct {
	Event string // "add" | "change" | "unlink"
	File  string // path relative to root
}

// Context is the generator context: the sole surface through which user
// code touches the filesystem. Every field and method call is tracked by
// the owning engine's watch registry.
type Context struct {
	Root    string
	Store   map[string]any
	Changes []Change
	Signal  context.Context
	Events  *Bus
	Watcher *WatcherView // non-nil only in watch mode
	FS      *FS

	name string
}

// Emit publishes a custom event tagged with this engine's name.
func (c *Context) Emit(key string, data any) {
	c.Events.Emit(c.name, key, data)
}

// File builds a path handle relative to root, the minimal constructor the
// base spec's context surface exposes as "File" (§3 Generator context).
func (c *Context) File(path string) FileRef {
	return FileRef{Root: c.Root, Path: path}
}

// FileRef pairs a root with a path so callers can print a clean relative
// reference without threading root through every call site.
type FileRef struct {
	Root string
	Path string
}

func (f FileRef) String() string { return f.Path }

// WatcherView is the read-only public surface exposed on Context.Watcher
// and Engine.Watcher in watch mode (§6): ready, watchedFiles, blamedFiles.
type WatcherView struct {
	engine *Engine
}

// Ready returns a channel closed once the initial recursive subscription
// for every registered base has completed its first pass.
func (w *WatcherView) Ready() <-chan struct{} {
	return w.engine.watchReady
}

// WatchedFiles returns a snapshot of every path the generator explicitly
// depends on.
func (w *WatcherView) WatchedFiles() []string {
	return w.engine.reg.WatchedFiles()
}

// BlamedFiles returns a snapshot of the blame mapping: watched file to the
// cause files its changes are reported under instead.
func (w *WatcherView) BlamedFiles() map[string][]string {
	return w.engine.reg.BlamedFiles()
}
