package fsgen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vormadev/fsgen/internal/fserr"
)

// newTestEngineFS builds an engine over root (in watch mode when watch is
// true) whose body only captures ctx.FS, giving direct access to its *FS
// facade once the first run has finished.
func newTestEngineFS(t *testing.T, root string, watch bool) (*Engine, *FS) {
	t.Helper()
	bus := NewBus()
	finishCh := make(chan struct{}, 1)
	bus.On(EventFinish, func(Event) { finishCh <- struct{}{} })

	var captured *FS
	e, err := New(Options{
		Root:   root,
		Watch:  watch,
		Events: bus,
		Body: func(ctx *Context) (any, error) {
			captured = ctx.FS
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Destroy)

	select {
	case <-finishCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the engine's first run")
	}
	return e, captured
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestScanFindsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "src", "main.go"), "package main")
	mustWriteFile(t, filepath.Join(dir, "src", "util.go"), "package main")
	mustWriteFile(t, filepath.Join(dir, "src", "notes.txt"), "not go")

	_, fs := newTestEngineFS(t, dir, false)

	matches, err := fs.Scan([]string{"src/*.go"}, ScanOptions{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Scan() = %v, want 2 matches", matches)
	}
}

func TestScanExcludesDefaultIgnores(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "main.go"), "package main")
	mustWriteFile(t, filepath.Join(dir, "node_modules", "pkg", "index.go"), "package pkg")

	_, fs := newTestEngineFS(t, dir, false)

	matches, err := fs.Scan([]string{"**/*.go"}, ScanOptions{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	for _, m := range matches {
		if filepath.ToSlash(m) == "node_modules/pkg/index.go" {
			t.Errorf("Scan() = %v, want node_modules excluded by default", matches)
		}
	}
}

func TestScanMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	_, fs := newTestEngineFS(t, dir, false)

	matches, err := fs.Scan([]string{"*.go"}, ScanOptions{Cwd: "does-not-exist"})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Scan() = %v, want empty for a missing cwd", matches)
	}
}

func TestFindUpLocatesAncestorFile(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "go.mod"), "module example.com/app\n")
	sub := filepath.Join(dir, "cmd", "app")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	_, fs := newTestEngineFS(t, dir, false)

	path, found, err := fs.FindUp([]string{"go.mod"}, FindUpOptions{Cwd: sub})
	if err != nil {
		t.Fatalf("FindUp() error = %v", err)
	}
	if !found {
		t.Fatal("FindUp() found = false, want true")
	}
	if filepath.ToSlash(path) != "go.mod" {
		t.Errorf("FindUp() path = %q, want %q", path, "go.mod")
	}
}

func TestFindUpStopsAtStopAt(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "cmd", "app")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	// a go.mod above StopAt must not be found
	mustWriteFile(t, filepath.Join(dir, "go.mod"), "module example.com/app\n")

	_, fs := newTestEngineFS(t, dir, false)

	_, found, err := fs.FindUp([]string{"go.mod"}, FindUpOptions{Cwd: sub, StopAt: filepath.Join(dir, "cmd")})
	if err != nil {
		t.Fatalf("FindUp() error = %v", err)
	}
	if found {
		t.Error("FindUp() found = true, want false once StopAt is reached")
	}
}

func TestListReturnsDirEntries(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.txt"), "a")
	mustWriteFile(t, filepath.Join(dir, "b.txt"), "b")
	mustWriteFile(t, filepath.Join(dir, ".hidden"), "h")

	_, fs := newTestEngineFS(t, dir, false)

	entries, err := fs.List(".", ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List() = %v, want 2 visible entries", entries)
	}
}

func TestReadReturnsContent(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "config.json"), `{"a":1}`)

	_, fs := newTestEngineFS(t, dir, false)

	data, err := fs.Read("config.json", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Read() = %q, want %q", data, `{"a":1}`)
	}
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, fs := newTestEngineFS(t, dir, false)

	if _, err := fs.Read("missing.json", ReadOptions{}); !fserr.IsNotFound(err) {
		t.Errorf("Read() error = %v, want a notfound error for a missing file", err)
	}
}

func TestTryReadReturnsNilOnMissing(t *testing.T) {
	dir := t.TempDir()
	_, fs := newTestEngineFS(t, dir, false)

	if got := fs.TryRead("missing.json", ReadOptions{}); got != nil {
		t.Errorf("TryRead() = %v, want nil", got)
	}
}

func TestReadStringDecodesContent(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "hello world")

	_, fs := newTestEngineFS(t, dir, false)

	got, err := fs.ReadString("notes.txt", ReadOptions{})
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if got != "hello world" {
		t.Errorf("ReadString() = %q, want %q", got, "hello world")
	}
}

func TestStatReportsNilForMissingPath(t *testing.T) {
	dir := t.TempDir()
	_, fs := newTestEngineFS(t, dir, false)

	info, err := fs.Stat("missing.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info != nil {
		t.Errorf("Stat() = %v, want nil for a missing path", info)
	}
}

func TestStatReportsInfoForExistingPath(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.txt"), "a")

	_, fs := newTestEngineFS(t, dir, false)

	info, err := fs.Stat("a.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info == nil {
		t.Fatal("Stat() = nil, want non-nil FileInfo")
	}
	if info.IsDir() {
		t.Error("Stat() reported a directory for a regular file")
	}
}

func TestExistsFamily(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "file.txt"), "x")
	if err := os.MkdirAll(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	_, fs := newTestEngineFS(t, dir, false)

	if !fs.Exists("file.txt") {
		t.Error("Exists(file.txt) = false, want true")
	}
	if fs.Exists("missing.txt") {
		t.Error("Exists(missing.txt) = true, want false")
	}
	if !fs.FileExists("file.txt") {
		t.Error("FileExists(file.txt) = false, want true")
	}
	if fs.FileExists("subdir") {
		t.Error("FileExists(subdir) = true, want false for a directory")
	}
	if !fs.DirectoryExists("subdir") {
		t.Error("DirectoryExists(subdir) = false, want true")
	}
	if fs.DirectoryExists("file.txt") {
		t.Error("DirectoryExists(file.txt) = true, want false for a regular file")
	}
}

func TestWriteSkipsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	mustWriteFile(t, target, "same")

	bus := NewBus()
	writeCh := make(chan struct{}, 1)
	bus.On(EventWrite, func(Event) { writeCh <- struct{}{} })
	finishCh := make(chan struct{}, 1)
	bus.On(EventFinish, func(Event) { finishCh <- struct{}{} })

	e, err := New(Options{
		Root:   dir,
		Events: bus,
		Body: func(ctx *Context) (any, error) {
			return nil, ctx.FS.WriteString("out.txt", "same")
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Destroy)

	<-finishCh

	select {
	case <-writeCh:
		t.Error("expected no write event for byte-identical content")
	case <-time.After(200 * time.Millisecond):
		// expected: Write is a no-op when content already matches
	}
}

func TestWriteEmitsEventOnChange(t *testing.T) {
	dir := t.TempDir()

	bus := NewBus()
	writeCh := make(chan Event, 1)
	bus.On(EventWrite, func(e Event) { writeCh <- e })
	finishCh := make(chan struct{}, 1)
	bus.On(EventFinish, func(Event) { finishCh <- struct{}{} })

	e, err := New(Options{
		Root:   dir,
		Events: bus,
		Body: func(ctx *Context) (any, error) {
			return nil, ctx.FS.WriteString("generated/out.txt", "hello")
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Destroy)

	<-finishCh

	select {
	case evt := <-writeCh:
		if evt.Path != "generated/out.txt" {
			t.Errorf("EventWrite.Path = %q, want %q", evt.Path, "generated/out.txt")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write event")
	}

	data, err := os.ReadFile(filepath.Join(dir, "generated", "out.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("written content = %q, want %q", data, "hello")
	}
}

func TestWatchRegistersExplicitDependencyWithCause(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "schema.ts"), "export type T = {}")
	mustWriteFile(t, filepath.Join(dir, "gen.ts"), "// generated")

	_, fs := newTestEngineFS(t, dir, true)

	abs := func(p string) string { return filepath.Join(dir, p) }

	if err := fs.Watch([]string{"gen.ts"}, WatchOptions{Cause: abs("schema.ts")}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	causes := fs.engine.reg.Blame(abs("gen.ts"))
	if len(causes) != 1 || causes[0] != abs("schema.ts") {
		t.Errorf("Blame(gen.ts) = %v, want [%q]", causes, abs("schema.ts"))
	}
}
