package fswatch

import (
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDebouncerBatchesRapidEvents(t *testing.T) {
	var mu sync.Mutex
	var batches [][]fsnotify.Event

	d := newDebouncer(20*time.Millisecond, func(evts []fsnotify.Event) {
		mu.Lock()
		batches = append(batches, evts)
		mu.Unlock()
	})

	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Write})
	d.add(fsnotify.Event{Name: "/b", Op: fsnotify.Write})
	d.add(fsnotify.Event{Name: "/c", Op: fsnotify.Write})

	waitFor(t, 500*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("batch has %d events, want 3", len(batches[0]))
	}
}

func TestDebouncerQueuesCallbackWhileInFlight(t *testing.T) {
	var mu sync.Mutex
	var batches [][]fsnotify.Event
	release := make(chan struct{})

	d := newDebouncer(5*time.Millisecond, func(evts []fsnotify.Event) {
		<-release
		mu.Lock()
		batches = append(batches, evts)
		mu.Unlock()
	})

	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Write})
	time.Sleep(20 * time.Millisecond) // let the first flush enter the callback
	d.add(fsnotify.Event{Name: "/b", Op: fsnotify.Write})
	time.Sleep(20 * time.Millisecond) // the second add should queue as pending

	close(release)

	waitFor(t, 500*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2 (first in-flight, second queued)", len(batches))
	}
}

func TestDebouncerStopDiscardsPending(t *testing.T) {
	var mu sync.Mutex
	var calls int

	d := newDebouncer(10*time.Millisecond, func(evts []fsnotify.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Write})
	d.stop()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("expected stop() to discard the pending flush, got %d calls", calls)
	}
}

func TestDebouncerFoldsRepeatedEventsToLatestPerPath(t *testing.T) {
	var mu sync.Mutex
	var batches [][]fsnotify.Event

	d := newDebouncer(20*time.Millisecond, func(evts []fsnotify.Event) {
		mu.Lock()
		batches = append(batches, evts)
		mu.Unlock()
	})

	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Write})
	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Write})
	d.add(fsnotify.Event{Name: "/a", Op: fsnotify.Remove})
	d.add(fsnotify.Event{Name: "/b", Op: fsnotify.Write})

	waitFor(t, 500*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(batches[0]) != 2 {
		t.Fatalf("folded batch has %d events, want 2 (one per distinct path)", len(batches[0]))
	}
	for _, evt := range batches[0] {
		if evt.Name == "/a" && evt.Op != fsnotify.Remove {
			t.Errorf("event for /a = %v, want the latest op (Remove)", evt.Op)
		}
	}
}

func TestFoldByPathKeepsFirstSeenOrder(t *testing.T) {
	in := []fsnotify.Event{
		{Name: "/b", Op: fsnotify.Write},
		{Name: "/a", Op: fsnotify.Write},
		{Name: "/b", Op: fsnotify.Remove},
	}
	out := foldByPath(in)

	if len(out) != 2 || out[0].Name != "/b" || out[1].Name != "/a" {
		t.Errorf("foldByPath() = %v, want [/b(latest) /a] in first-seen order", out)
	}
	if out[0].Op != fsnotify.Remove {
		t.Errorf("foldByPath()[0].Op = %v, want the latest op for /b", out[0].Op)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}
