// Package runloop implements the run lifecycle (component C8): a state
// machine over {Pending, Running, Finished} that holds the cancellation
// token and orchestrates start, rerun, abort, and destroy so that exactly
// one generator body runs at a time.
package runloop

import (
	"sync"
	"time"

	"github.com/vormadev/fsgen/internal/fserr"
)

type State int32

const (
	Pending State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// RunFunc executes one generator body. It must observe tok.Context() and
// return promptly (or a wrapped context-cancellation error) once aborted.
type RunFunc func(tok *Token) (any, error)

// Hooks are the lifecycle callbacks the owning engine wires up to its
// event bus. None may block for long; onStart in particular must return
// before the loop will consider the run "begun" for WaitForStart purposes.
type Hooks struct {
	OnStart   func()
	OnFinish  func(result any)
	OnError   func(err error)
	OnAbort   func(reason string)
	OnDestroy func()
}

// Loop is the run lifecycle state machine for one engine.
type Loop struct {
	run   RunFunc
	hooks Hooks

	mu            sync.Mutex
	state         State
	token         *Token
	pendingReason string
	destroying    bool
	destroyed     bool

	lastErr    error
	lastResult any

	wake         chan struct{}
	startWaiters []chan struct{}
	destroyDone  chan struct{}
}

// New builds a loop with the first run already scheduled (state Pending).
// Call Go to start the background goroutine once the caller has finished
// subscribing to lifecycle events — mirroring the base spec's guarantee
// that "start" fires on a microtask boundary after construction.
func New(run RunFunc, hooks Hooks) *Loop {
	return &Loop{
		run:           run,
		hooks:         hooks,
		state:         Pending,
		pendingReason: "start",
		wake:          make(chan struct{}, 1),
		destroyDone:   make(chan struct{}),
	}
}

// Go starts the loop's goroutine. Call exactly once.
func (l *Loop) Go() {
	go l.loop()
}

func (l *Loop) loop() {
	for {
		l.mu.Lock()
		if l.destroying {
			l.mu.Unlock()
			l.finalizeDestroy()
			return
		}
		if l.state != Pending {
			l.mu.Unlock()
			<-l.wake
			continue
		}
		l.state = Running
		l.token = newToken()
		l.mu.Unlock()

		if l.hooks.OnStart != nil {
			l.hooks.OnStart()
		}
		l.resolveStartWaiters()

		result, err := l.run(l.token)

		l.mu.Lock()
		// scheduleRun may have moved a Running loop back to Pending while
		// the body was settling; that rerun must not be overwritten.
		if l.state == Running {
			l.state = Finished
		}
		tok := l.token
		l.mu.Unlock()

		switch {
		case err != nil && fserr.IsAbort(err):
			if l.hooks.OnAbort != nil {
				l.hooks.OnAbort(tok.Reason())
			}
		case err != nil:
			l.mu.Lock()
			l.lastErr = err
			l.mu.Unlock()
			if l.hooks.OnError != nil {
				l.hooks.OnError(err)
			}
		default:
			l.mu.Lock()
			l.lastErr = nil
			l.lastResult = result
			l.mu.Unlock()
			if l.hooks.OnFinish != nil {
				l.hooks.OnFinish(result)
			}
		}
	}
}

func (l *Loop) resolveStartWaiters() {
	l.mu.Lock()
	waiters := l.startWaiters
	l.startWaiters = nil
	l.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// scheduleRun moves the loop toward Running for the given reason. If
// currently Running, the live token is aborted first.
func (l *Loop) scheduleRun(reason string) error {
	l.mu.Lock()
	if l.destroying || l.destroyed {
		l.mu.Unlock()
		return fserr.ErrDestroyed
	}

	var toAbort *Token
	switch l.state {
	case Running:
		toAbort = l.token
		l.state = Pending
		l.pendingReason = reason
	case Pending:
		l.pendingReason = reason
	case Finished:
		l.state = Pending
		l.pendingReason = reason
	}
	l.mu.Unlock()

	if toAbort != nil {
		toAbort.Abort(reason)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// NotifyChange schedules a rerun in response to a relevant filesystem
// event (reason "watch").
func (l *Loop) NotifyChange() error {
	return l.scheduleRun("watch")
}

// Rerun implements the public rerun() API: if Finished it starts
// immediately; if Pending it joins the already-scheduled run; if Running
// it aborts and schedules. It blocks until the resulting run's "start"
// fires.
func (l *Loop) Rerun() error {
	waiter := l.registerStartWaiter()
	if waiter == nil {
		return fserr.ErrDestroyed
	}
	if err := l.scheduleRun("rerun"); err != nil {
		return err
	}
	<-waiter
	return nil
}

func (l *Loop) registerStartWaiter() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroying || l.destroyed {
		return nil
	}
	ch := make(chan struct{})
	l.startWaiters = append(l.startWaiters, ch)
	return ch
}

// WaitForStart resolves once the next "start" event fires, or rejects with
// a timeout error if timeout elapses first (timeout<=0 waits forever). The
// engine itself is not terminated by a timeout.
func (l *Loop) WaitForStart(timeout time.Duration) error {
	ch := l.registerStartWaiter()
	if ch == nil {
		return fserr.ErrDestroyed
	}
	if timeout <= 0 {
		<-ch
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return fserr.ErrTimeout
	}
}

// Destroy aborts any running body with reason "destroy", then blocks until
// the loop has settled and onDestroy has fired. Safe to call more than
// once; subsequent calls return immediately.
func (l *Loop) Destroy() {
	l.mu.Lock()
	if l.destroying || l.destroyed {
		l.mu.Unlock()
		<-l.destroyDone
		return
	}
	l.destroying = true
	tok := l.token
	running := l.state == Running
	l.mu.Unlock()

	if running && tok != nil {
		tok.Abort("destroy")
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}

	<-l.destroyDone
}

func (l *Loop) finalizeDestroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	waiters := l.startWaiters
	l.startWaiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if l.hooks.OnDestroy != nil {
		l.hooks.OnDestroy()
	}
	close(l.destroyDone)
}

// Status reports the current state.
func (l *Loop) Status() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error of the most recently finished non-aborted run, or
// nil if that run succeeded or no run has finished yet.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Result returns the value from the most recently finished successful run.
func (l *Loop) Result() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastResult
}
