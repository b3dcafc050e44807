//go:build windows

package server

import "syscall"

// SO_REUSEADDR on Windows permits port-sharing across processes, so no
// socket option is set here.
func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}
