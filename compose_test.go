package fsgen

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestComposeRequiresAtLeastOneOptions(t *testing.T) {
	if _, err := Compose(); err == nil {
		t.Error("expected an error when Compose is called with no Options")
	}
}

func TestComposeSharesOneBusAcrossChildren(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	finishCh := make(chan struct{}, 8)

	// Compose constructs its own shared bus. Children may finish before the
	// subscription below is attached, so the test checks that every child
	// publishes on c.Events() rather than counting finish events.
	c, err := Compose(
		Options{Root: t.TempDir(), Name: "one", Body: func(ctx *Context) (any, error) { return nil, nil }},
		Options{Root: t.TempDir(), Name: "two", Body: func(ctx *Context) (any, error) { return nil, nil }},
	)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	t.Cleanup(c.Destroy)

	unsub := c.Events().On(EventFinish, func(e Event) {
		mu.Lock()
		seen[e.Name]++
		mu.Unlock()
		select {
		case finishCh <- struct{}{}:
		default:
		}
	})
	defer unsub()

	waitUntilFinished(t, c)

	mu.Lock()
	defer mu.Unlock()
	if len(c.Children()) != 2 {
		t.Fatalf("Children() = %d, want 2", len(c.Children()))
	}
	for _, child := range c.Children() {
		if child.Events() != c.Events() {
			t.Errorf("child %q publishes on a different bus than Events()", child.Name())
		}
	}
}

func waitUntilFinished(t *testing.T, c *Composed) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == StateFinished {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.Status() != StateFinished {
		t.Fatalf("Compose() did not reach StateFinished within the deadline, status = %v", c.Status())
	}
}

func TestComposeDestroyTearsDownAllChildren(t *testing.T) {
	c, err := Compose(
		Options{Root: t.TempDir(), Body: func(ctx *Context) (any, error) { return nil, nil }},
		Options{Root: t.TempDir(), Body: func(ctx *Context) (any, error) { return nil, nil }},
	)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	waitUntilFinished(t, c)

	c.Destroy()

	for _, child := range c.Children() {
		if err := child.Rerun(); err == nil {
			t.Error("expected Rerun() on a destroyed child to fail")
		}
	}
}

func TestComposeResultsInConstructionOrder(t *testing.T) {
	c, err := Compose(
		Options{Root: t.TempDir(), Body: func(ctx *Context) (any, error) { return "first", nil }},
		Options{Root: t.TempDir(), Body: func(ctx *Context) (any, error) { return "second", nil }},
	)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	t.Cleanup(c.Destroy)
	waitUntilFinished(t, c)

	results := c.Results()
	if len(results) != 2 || results[0] != "first" || results[1] != "second" {
		t.Errorf("Results() = %v, want [first second]", results)
	}
}

func TestComposeConstructionErrorDestroysStartedChildren(t *testing.T) {
	bus := NewBus()
	destroyed := make(chan struct{}, 1)
	bus.On(EventDestroy, func(Event) {
		select {
		case destroyed <- struct{}{}:
		default:
		}
	})

	_, err := Compose(
		Options{Root: t.TempDir(), Events: bus, Body: func(ctx *Context) (any, error) { return nil, nil }},
		Options{Root: t.TempDir()}, // missing Body: must fail construction
	)
	if err == nil {
		t.Fatal("expected Compose() to fail when one child's Options is invalid")
	}
	select {
	case <-destroyed:
	default:
		t.Error("expected the child that did construct to be destroyed before Compose() returned")
	}
}

func TestComposeWatchedAndBlamedFilesUnion(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	var mu sync.Mutex
	var fsA, fsB *FS

	c, err := Compose(
		Options{Root: dirA, Watch: true, Body: func(ctx *Context) (any, error) {
			mu.Lock()
			fsA = ctx.FS
			mu.Unlock()
			return nil, nil
		}},
		Options{Root: dirB, Watch: true, Body: func(ctx *Context) (any, error) {
			mu.Lock()
			fsB = ctx.FS
			mu.Unlock()
			return nil, nil
		}},
	)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	t.Cleanup(c.Destroy)
	waitUntilFinished(t, c)

	for i := 0; i < 2; i++ {
		mustWriteFile(t, fmt.Sprintf("%s/file%d.txt", dirA, i), "x")
	}
	mustWriteFile(t, dirB+"/other.txt", "y")

	mu.Lock()
	if _, err := fsA.Read("file0.txt", ReadOptions{}); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, err := fsB.Read("other.txt", ReadOptions{}); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	mu.Unlock()

	watched := c.WatchedFiles()
	if len(watched) != 2 {
		t.Errorf("WatchedFiles() = %v, want 2 entries (one per child)", watched)
	}

	cause := filepath.Join(dirA, "file0.txt")
	generated := filepath.Join(dirA, "file1.txt")
	mu.Lock()
	watchErr := fsA.Watch([]string{"file1.txt"}, WatchOptions{Cause: cause})
	mu.Unlock()
	if watchErr != nil {
		t.Fatalf("Watch() error = %v", watchErr)
	}
	if causes := c.BlamedFiles()[generated]; len(causes) != 1 || causes[0] != cause {
		t.Errorf("BlamedFiles()[%q] = %v, want [%q]", generated, causes, cause)
	}
}
