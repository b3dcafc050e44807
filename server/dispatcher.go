package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/hermit-os/wasmserve/engine"
	"github.com/hermit-os/wasmserve/hostfunc"
	"github.com/hermit-os/wasmserve/sandbox"
)

// errMissingAuthority rejects a request that names no authority at all:
// no Host header and no authority in the request target.
var errMissingAuthority = errors.New("malformed request URI: no Host header or target authority")

// Handler dispatches each framed request into a fresh sandbox running the
// precompiled handler component. It is the http.Handler the acceptor
// serves; many instances of the component run concurrently through it.
type Handler struct {
	factory *sandbox.Factory
	log     *zap.Logger
	fuel    uint64
	nextID  atomic.Uint64

	// invoke runs one instantiation of the precompiled handler. Split out
	// so tests can stand in for the engine.
	invoke func(ctx context.Context, modCfg wazero.ModuleConfig) error
}

// NewHandler wires the dispatcher to the engine and sandbox factory.
func NewHandler(eng *engine.Engine, factory *sandbox.Factory, fuel uint64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{factory: factory, log: log, fuel: fuel, invoke: eng.Instantiate}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := h.nextID.Add(1)

	target, err := normalizeTarget(r)
	if err != nil {
		h.log.Warn("rejecting request", zap.Uint64("request_id", id), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.log.Info("handling request",
		zap.Uint64("request_id", id),
		zap.String("method", r.Method),
		zap.String("uri", target))

	sb, err := h.factory.New(r.Context(), id)
	if err != nil {
		h.log.Error("sandbox construction failed", zap.Uint64("request_id", id), zap.Error(err))
		http.Error(w, "sandbox construction failed", http.StatusInternalServerError)
		return
	}
	defer sb.Close()

	head := hostfunc.EncodeHead(r.Method, target, r.Header)
	inv := hostfunc.NewInvocation(id, head, r.Body, h.fuel, sb.Fail)

	done := make(chan error, 1)
	go func() {
		err := h.invoke(hostfunc.WithInvocation(sb.Context(), inv), sb.ModuleConfig())
		inv.Finish(err)
		done <- err
	}()

	select {
	case resp := <-inv.Ready():
		h.writeResponse(w, id, resp, done)
	case err := <-done:
		// The signal may have landed in the same instant the task ended;
		// prefer it if so.
		select {
		case resp := <-inv.Ready():
			h.writeResponse(w, id, resp, done)
		default:
			h.failRequest(w, id, err)
		}
	}
}

// writeResponse forwards the signalled response head and streams the body
// until the invocation finishes. A failure after this point is logged but
// never retracted: the headers are already on the wire.
func (h *Handler) writeResponse(w http.ResponseWriter, id uint64, resp hostfunc.Response, done <-chan error) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Error("response body truncated", zap.Uint64("request_id", id), zap.Error(err))
	}
	// Unblocks any guest write still in flight once the consumer is gone.
	_ = resp.Body.Close()
	if err := <-done; err != nil {
		h.log.Error("handler failed after response was started",
			zap.Uint64("request_id", id), zap.Error(err))
	}
}

// failRequest reports an invocation that ended without ever signalling a
// response. The task's own outcome is the authoritative diagnostic; a nil
// outcome is itself the protocol violation.
func (h *Handler) failRequest(w http.ResponseWriter, id uint64, err error) {
	if err == nil {
		err = hostfunc.ErrNoResponse
	}
	h.log.Error("request failed", zap.Uint64("request_id", id), zap.Error(err))
	http.Error(w, fmt.Sprintf("component error: %v", err), http.StatusInternalServerError)
}

// normalizeTarget rebuilds the absolute request target handed to the
// component: the transport scheme, the authority, and the original path
// and query. net/http folds the two authority sources together: for an
// absolute-form request line Request.Host carries the target's authority,
// otherwise the Host header. A request with neither is malformed and never
// reaches sandbox construction.
func normalizeTarget(r *http.Request) (string, error) {
	if r.Host == "" {
		return "", errMissingAuthority
	}
	u := url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if r.TLS != nil {
		u.Scheme = "https"
	}
	return u.String(), nil
}
