package server

import (
	"context"
	"net"
)

// Listen binds the serving socket. Address-reuse semantics differ by
// platform: on Unix SO_REUSEADDR only allows rebinding a port left in
// TIME_WAIT by a previous run, so it is enabled to make restarts reliable.
// On Windows the same flag would let unrelated processes share the port,
// which is a security difference rather than a convenience, so it stays
// off there.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl}
	return lc.Listen(ctx, "tcp", addr)
}
