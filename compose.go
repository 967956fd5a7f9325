package fsgen

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vormadev/fsgen/internal/fserr"
)

// Composed aggregates several engines that share one event emitter and
// present a single lifecycle surface (§4.9): status reflects the union of
// children, rerun/destroy fan out to all of them, and watchedFiles/
// blamedFiles merge as unions.
type Composed struct {
	children []*Engine
	events   *Bus
}

// Compose builds every optsList entry concurrently (via errgroup, mirroring
// the teacher's kit/tasks use of the same library for fan-out construction)
// under one shared *Bus, unless an entry already supplies its own Events.
// If any child fails to construct, every child that did start is destroyed
// before the error is returned.
func Compose(optsList ...Options) (*Composed, error) {
	if len(optsList) == 0 {
		return nil, fserr.New(fserr.KindInternal, "fsgen.Compose", "", fmt.Errorf("at least one Options is required"))
	}

	bus := NewBus()
	for i := range optsList {
		if optsList[i].Events == nil {
			optsList[i].Events = bus
		}
	}

	children := make([]*Engine, len(optsList))
	g, _ := errgroup.WithContext(context.Background())
	for i, opts := range optsList {
		i, opts := i, opts
		g.Go(func() error {
			e, err := New(opts)
			if err != nil {
				return err
			}
			children[i] = e
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, e := range children {
			if e != nil {
				e.Destroy()
			}
		}
		return nil, err
	}

	return &Composed{children: children, events: bus}, nil
}

// Events returns the shared emitter Compose created. Every child publishes
// on it except one whose Options already supplied its own Events.
func (c *Composed) Events() *Bus { return c.events }

// Children returns a snapshot of the composed engines, in construction
// order.
func (c *Composed) Children() []*Engine {
	return append([]*Engine{}, c.children...)
}

// Status is Running if any child is, else Pending if any child is, else
// Finished.
func (c *Composed) Status() State {
	anyRunning, anyPending := false, false
	for _, e := range c.children {
		switch e.Status() {
		case StateRunning:
			anyRunning = true
		case StatePending:
			anyPending = true
		}
	}
	switch {
	case anyRunning:
		return StateRunning
	case anyPending:
		return StatePending
	default:
		return StateFinished
	}
}

// Results returns each child's most recent successful result, in
// construction order.
func (c *Composed) Results() []any {
	out := make([]any, len(c.children))
	for i, e := range c.children {
		out[i] = e.Result()
	}
	return out
}

// WatchedFiles unions every child's explicit dependencies.
func (c *Composed) WatchedFiles() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.children {
		for _, p := range e.WatchedFiles() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// BlamedFiles unions every child's blame mapping.
func (c *Composed) BlamedFiles() map[string][]string {
	merged := make(map[string]map[string]bool)
	for _, e := range c.children {
		for p, causes := range e.BlamedFiles() {
			set, ok := merged[p]
			if !ok {
				set = make(map[string]bool)
				merged[p] = set
			}
			for _, cause := range causes {
				set[cause] = true
			}
		}
	}
	out := make(map[string][]string, len(merged))
	for p, set := range merged {
		list := make([]string, 0, len(set))
		for cause := range set {
			list = append(list, cause)
		}
		out[p] = list
	}
	return out
}

// Rerun fans out to every child concurrently and waits for all of them.
func (c *Composed) Rerun() error {
	g, _ := errgroup.WithContext(context.Background())
	for _, e := range c.children {
		e := e
		g.Go(func() error { return e.Rerun() })
	}
	return g.Wait()
}

// Destroy fans out to every child concurrently and waits for all of them.
func (c *Composed) Destroy() {
	var wg sync.WaitGroup
	wg.Add(len(c.children))
	for _, e := range c.children {
		go func(e *Engine) {
			defer wg.Done()
			e.Destroy()
		}(e)
	}
	wg.Wait()
}
