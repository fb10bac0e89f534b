// Package deferred implements a chained-continuation engine: single-shot
// cells with separate success and failure paths, linked into chains, and
// executed cooperatively through a process-wide post queue drained one
// entry per timer tick.
//
// All transform execution is serialized: no two callbacks ever run
// concurrently, regardless of which goroutine fired them. Engine entry
// points are safe to call from inside a running transform; such nested
// requests are queued and run after the current transform returns, which
// also keeps long chains from deepening the stack.
package deferred

import (
	"fmt"

	"github.com/marmos91/sexpc/internal/logger"
)

// Status describes which path a Deferred has resolved along.
type Status int

const (
	// StatusUnset means the cell has not resolved (or forwarded its
	// resolution to a linked successor).
	StatusUnset Status = iota
	// StatusOK is the success path.
	StatusOK
	// StatusNG is the failure path.
	StatusNG
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNG:
		return "ng"
	default:
		return "unset"
	}
}

// Callback transforms a success value. Returning a non-nil error switches
// the chain to the failure path. Returning a *Deferred nests it: the
// chain's tail waits for the nested cell to resolve.
type Callback func(v any) (any, error)

// Errorback transforms a failure. Returning a nil error recovers the
// chain back to the success path with the returned value.
type Errorback func(err error) (any, error)

// Deferred is a single-assignment continuation cell.
//
// A cell resolves at most once along each edge: status moves unset→ok|ng
// exactly once when no successor is linked at the moment of resolution.
// When a successor is linked, the resolution is forwarded and this cell's
// own status stays unset.
//
// Fields are owned by the engine's executor; external reads go through
// State().
type Deferred struct {
	callback  Callback  // nil = identity pass-through
	errorback Errorback // nil = re-raise into the next cell
	next      *Deferred
	status    Status
	value     any
	err       error
}

// New creates an unresolved Deferred whose success transform is the
// identity.
func New() *Deferred {
	return &Deferred{}
}

// NewCallback creates an unresolved Deferred with the given success
// transform.
func NewCallback(f Callback) *Deferred {
	return &Deferred{callback: f}
}

// NewErrorback creates an unresolved Deferred with the given failure
// transform.
func NewErrorback(f Errorback) *Deferred {
	return &Deferred{errorback: f}
}

// Callback fires d along the success path with v. When no other transform
// is currently running the chain executes on the caller's goroutine;
// otherwise it is handed to the active executor.
func (d *Deferred) Callback(v any) {
	submit(op{kind: opRun, d: d, which: StatusOK, value: v})
}

// Errorback fires d along the failure path with err.
func (d *Deferred) Errorback(err error) {
	submit(op{kind: opRun, d: d, which: StatusNG, err: err})
}

// Post enqueues a success firing onto the process-wide post queue. The
// transform runs under a later tick, never on the caller's stack.
func (d *Deferred) Post(v any) {
	postEntry(d, StatusOK, v, nil)
}

// PostError enqueues a failure firing onto the post queue.
func (d *Deferred) PostError(err error) {
	postEntry(d, StatusNG, nil, err)
}

// Next creates a Deferred with success transform f and links it as d's
// successor. If d has already resolved, its stored outcome propagates
// into the new cell. Returns the new cell for further chaining.
func (d *Deferred) Next(f Callback) *Deferred {
	nd := NewCallback(f)
	submit(op{kind: opLink, d: d, link: nd})
	return nd
}

// NextErrorback creates a Deferred with failure transform f and links it
// as d's successor.
func (d *Deferred) NextErrorback(f Errorback) *Deferred {
	nd := NewErrorback(f)
	submit(op{kind: opLink, d: d, link: nd})
	return nd
}

// Cancel resets d's transforms to the defaults and unlinks its successor,
// so a later resolution passes through without observable effect.
func (d *Deferred) Cancel() {
	submit(op{kind: opCancel, d: d})
}

// State returns d's resolution status and outcome. A cell that forwarded
// its resolution to a successor reports StatusUnset.
func (d *Deferred) State() (Status, any, error) {
	stateMu.Lock()
	defer stateMu.Unlock()
	return d.status, d.value, d.err
}

// runTask applies the execution rule to (d, which, arg). Caller must be
// the active executor.
func runTask(d *Deferred, which Status, value any, err error) {
	var (
		result    any
		resultErr error
	)

	switch which {
	case StatusOK:
		if d.callback == nil {
			d.forward(StatusOK, value, nil)
			return
		}
		result, resultErr = invokeCallback(d.callback, value)
	case StatusNG:
		if d.errorback == nil {
			d.forward(StatusNG, nil, err)
			return
		}
		result, resultErr = invokeErrorback(d.errorback, err)
	default:
		return
	}

	if resultErr != nil {
		if d.next != nil {
			postEntry(d.next, StatusNG, nil, resultErr)
			return
		}
		d.resolve(StatusNG, nil, resultErr)
		logger.Warn("Unhandled deferred error", logger.KeyError, resultErr)
		return
	}

	// A transform returning a Deferred nests it: this cell's successor
	// becomes the tail of the nested chain, and this cell never resolves.
	if nested, ok := result.(*Deferred); ok && nested != nil {
		if d.next != nil {
			submit(op{kind: opLink, d: tailOf(nested), link: d.next})
			d.next = nil
		}
		return
	}

	if d.next != nil {
		// Posting, not executing: keeps long chains off this stack.
		postEntry(d.next, StatusOK, result, nil)
		return
	}
	d.resolve(StatusOK, result, nil)
}

// forward handles the no-transform case: the argument moves directly into
// the successor on the same path, by immediate execution.
func (d *Deferred) forward(which Status, value any, err error) {
	if d.next != nil {
		runTask(d.next, which, value, err)
		return
	}
	d.resolve(which, value, err)
	if which == StatusNG {
		logger.Warn("Unhandled deferred error", logger.KeyError, err)
	}
}

func (d *Deferred) resolve(which Status, value any, err error) {
	stateMu.Lock()
	d.status = which
	d.value = value
	d.err = err
	stateMu.Unlock()
}

// tailOf walks the successor chain to its last cell.
func tailOf(d *Deferred) *Deferred {
	t := d
	for t.next != nil {
		t = t.next
	}
	return t
}

// invokeCallback runs a success transform under the fault boundary.
func invokeCallback(f Callback, v any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return f(v)
}

// invokeErrorback runs a failure transform under the fault boundary.
func invokeErrorback(f Errorback, in error) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return f(in)
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", p)
}
