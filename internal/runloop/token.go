package runloop

import (
	"context"
	"sync"
)

// Token is the per-run cancellation token (§5): live during Running,
// replaced by a fresh one before the next transition back to Running.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

func newToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context a body should observe via ctx.Done()/ctx.Err()
// to honor cancellation, exposed to user code as the generator context's
// "signal".
func (t *Token) Context() context.Context {
	return t.ctx
}

// Abort cancels the token with a distinguishing reason: "watch", "rerun",
// or "destroy". The first reason recorded wins.
func (t *Token) Abort(reason string) {
	t.mu.Lock()
	if t.reason == "" {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

// Reason reports the recorded abort reason, or "" if never aborted.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
