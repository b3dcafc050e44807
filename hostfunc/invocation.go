package hostfunc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// ErrFuelExhausted is the cancellation cause when a metered invocation
// spends its last fuel unit.
var ErrFuelExhausted = errors.New("fuel exhausted")

// ErrNoResponse is reported when the handler's entry point returned
// successfully without ever signalling a response. The absence of a signal
// is never treated as success.
var ErrNoResponse = errors.New("handler exited without producing a response")

// Response is the one-shot value handed from the sandboxed invocation to
// the connection layer. Body keeps streaming after the signal; it is
// closed (possibly with an error) when the invocation finishes.
type Response struct {
	Status int
	Header http.Header
	Body   *io.PipeReader
}

// Invocation is the per-request state the handler ABI operates on: the
// serialized request, the response handoff channel and the remaining fuel.
// Exactly one invocation exists per request, owned by its dispatch task.
type Invocation struct {
	id   uint64
	head []byte
	body io.Reader

	metered bool
	fuel    atomic.Int64

	// fail cancels the sandbox context with a cause; the engine's
	// termination checkpoints then abort the guest.
	fail context.CancelCauseFunc

	mu      sync.Mutex
	started bool
	bodyW   *io.PipeWriter

	ready chan Response
}

// NewInvocation builds the state for one request. head is the serialized
// request head, body the request body stream. fuel of zero disables
// metering. fail is invoked with the failure cause when the ABI must abort
// the guest (fuel exhaustion); it must cancel the sandbox context.
func NewInvocation(id uint64, head []byte, body io.Reader, fuel uint64, fail context.CancelCauseFunc) *Invocation {
	inv := &Invocation{
		id:      id,
		head:    head,
		body:    body,
		metered: fuel > 0,
		fail:    fail,
		ready:   make(chan Response, 1),
	}
	inv.fuel.Store(int64(fuel))
	return inv
}

// ID returns the request identity this invocation serves.
func (inv *Invocation) ID() uint64 { return inv.id }

// Ready returns the channel carrying the zero-or-one response signal.
func (inv *Invocation) Ready() <-chan Response { return inv.ready }

// Start signals the response head. The first call wins and opens the body
// stream; any further call reports false and changes nothing.
func (inv *Invocation) Start(status int, header http.Header) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.started {
		return false
	}
	inv.started = true
	pr, pw := io.Pipe()
	inv.bodyW = pw
	inv.ready <- Response{Status: status, Header: header, Body: pr}
	return true
}

// Started reports whether the response signal was sent.
func (inv *Invocation) Started() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.started
}

// Write streams a body chunk to the connection layer, blocking for
// backpressure. Returns bytes written, or -1 when no response was started
// or the consumer is gone.
func (inv *Invocation) Write(p []byte) int32 {
	inv.mu.Lock()
	pw := inv.bodyW
	inv.mu.Unlock()
	if pw == nil {
		return -1
	}
	n, err := pw.Write(p)
	if err != nil {
		return -1
	}
	return int32(n)
}

// Finish marks the invocation complete, closing the body stream. A non-nil
// err after the response was started truncates the stream with that error;
// before a start it only matters to the dispatcher, which reads it from
// the task itself.
func (inv *Invocation) Finish(err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.bodyW == nil {
		return
	}
	if err != nil {
		inv.bodyW.CloseWithError(err)
	} else {
		inv.bodyW.Close()
	}
	inv.bodyW = nil
}

// consumeFuel charges one unit at an ABI checkpoint. On exhaustion the
// invocation is failed once with ErrFuelExhausted and every later
// checkpoint keeps reporting false.
func (inv *Invocation) consumeFuel() bool {
	if !inv.metered {
		return true
	}
	left := inv.fuel.Add(-1)
	if left < 0 {
		if left == -1 {
			inv.fail(ErrFuelExhausted)
		}
		return false
	}
	return true
}

type invocationKey struct{}

// WithInvocation attaches inv to ctx for the duration of one guest
// instantiation. The ABI exports retrieve it with FromContext.
func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// FromContext returns the invocation the current host call belongs to.
func FromContext(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}
