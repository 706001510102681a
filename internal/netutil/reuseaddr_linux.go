//go:build linux

// Package netutil provides platform-specific socket options needed to bind
// the query listener alongside the host application's own transport on the
// same UDP port.
package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenConfig returns a net.ListenConfig whose sockets are created with
// SO_REUSEADDR and SO_REUSEPORT set before bind, so the query listener can
// share a port already bound by the host application.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					setErr = err
					return
				}
				// SO_REUSEPORT failures are tolerated: SO_REUSEADDR alone is
				// enough on kernels where REUSEPORT isn't available.
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}
