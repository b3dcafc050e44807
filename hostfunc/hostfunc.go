// Package hostfunc implements the host side of the handler ABI: the
// functions a handler component imports to read its request and produce
// its response, and the per-request invocation state they operate on.
//
// The ABI is instance-per-request: every sandbox runs the component's
// entry point exactly once, and each host function resolves its request
// through the invocation carried by the call context.
package hostfunc

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ModuleName is the import namespace handler components bind against.
const ModuleName = "http_handler"

// Errno values returned by response_start.
const (
	ErrnoOK             uint32 = iota
	ErrnoAlreadyStarted        // a response was already signalled
	ErrnoInvalidStatus         // status outside 100..999
	ErrnoInvalidHeaders        // header block unreadable or malformed
)

// Instantiate exports the handler ABI into rt. Called once at startup,
// before the component is ever instantiated; the bindings themselves are
// stateless and shared by all requests.
func Instantiate(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().WithFunc(requestHead).Export("request_head").
		NewFunctionBuilder().WithFunc(requestBodyRead).Export("request_body_read").
		NewFunctionBuilder().WithFunc(responseStart).Export("response_start").
		NewFunctionBuilder().WithFunc(responseWrite).Export("response_write").
		Instantiate(ctx)
	return err
}

// requestHead copies the serialized request head into guest memory and
// returns its full length. A result larger than cap means the guest's
// buffer was too small; nothing beyond cap is written.
func requestHead(ctx context.Context, mod api.Module, buf, cap uint32) uint32 {
	inv, ok := FromContext(ctx)
	if !ok || !inv.consumeFuel() {
		return 0
	}
	head := inv.head
	n := uint32(len(head))
	if n > cap {
		n = cap
	}
	if n > 0 && !mod.Memory().Write(buf, head[:n]) {
		return 0
	}
	return uint32(len(head))
}

// requestBodyRead reads the next request-body chunk into guest memory.
// Returns the byte count, 0 at end of body, or -1 on failure.
func requestBodyRead(ctx context.Context, mod api.Module, buf, length uint32) int32 {
	inv, ok := FromContext(ctx)
	if !ok || !inv.consumeFuel() {
		return -1
	}
	if length == 0 {
		return 0
	}
	view, ok := mod.Memory().Read(buf, length)
	if !ok {
		return -1
	}
	n, err := inv.body.Read(view)
	if n > 0 {
		return int32(n)
	}
	if err != nil && err != io.EOF {
		return -1
	}
	return 0
}

// responseStart is the one-shot handoff signal: status plus a serialized
// header block. At most one call per request succeeds.
func responseStart(ctx context.Context, mod api.Module, status, hdrs, hdrsLen uint32) uint32 {
	inv, ok := FromContext(ctx)
	if !ok || !inv.consumeFuel() {
		return ErrnoInvalidHeaders
	}
	if status < 100 || status > 999 {
		return ErrnoInvalidStatus
	}
	var raw []byte
	if hdrsLen > 0 {
		raw, ok = mod.Memory().Read(hdrs, hdrsLen)
		if !ok {
			return ErrnoInvalidHeaders
		}
	}
	header, err := ParseHeaderBlock(raw)
	if err != nil {
		return ErrnoInvalidHeaders
	}
	if !inv.Start(int(status), header) {
		return ErrnoAlreadyStarted
	}
	return ErrnoOK
}

// responseWrite streams a body chunk after response_start. Returns bytes
// accepted or -1 if no response was started or the connection is gone.
func responseWrite(ctx context.Context, mod api.Module, buf, length uint32) int32 {
	inv, ok := FromContext(ctx)
	if !ok || !inv.consumeFuel() {
		return -1
	}
	if length == 0 {
		return 0
	}
	view, ok := mod.Memory().Read(buf, length)
	if !ok {
		return -1
	}
	return inv.Write(view)
}
