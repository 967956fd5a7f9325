// Package fserr defines the error kinds the engine distinguishes between:
// io, notfound, abort, timeout, and internal invariant violations.
package fserr

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindAbort
	KindTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNotFound:
		return "notfound"
	case KindAbort:
		return "abort"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Err is the common shape every error surfaced through the generator
// context, the emitted "error" event, and a rejected run is wrapped into.
type Err struct {
	Kind  Kind
	Op    string
	Path  string
	Cause error
}

func (e *Err) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Cause)
}

func (e *Err) Unwrap() error {
	return e.Cause
}

func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, path string, cause error) *Err {
	return &Err{Kind: kind, Op: op, Path: path, Cause: cause}
}

// Sentinel values usable with errors.Is against any *Err of the same Kind.
var (
	ErrAborted   = &Err{Kind: KindAbort, Op: "run"}
	ErrTimeout   = &Err{Kind: KindTimeout, Op: "waitForStart"}
	ErrDestroyed = New(KindInternal, "engine", "", errors.New("engine already destroyed"))
)

// IsNotFound reports whether err is an *Err of KindNotFound, the kind
// FS.Read reports for a missing path. TryRead, Stat, Lstat and the Exists
// family return nil or false for a missing path instead of an error.
func IsNotFound(err error) bool {
	var e *Err
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// IsAbort reports whether err is the cancellation-token control signal,
// which a run must swallow silently rather than surface as "error". A
// body that propagates its context's own cancellation error is treated the
// same as one that returns ErrAborted explicitly.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}
