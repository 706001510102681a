//go:build windows

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// ListenConfig returns a net.ListenConfig whose sockets are created with
// SO_REUSEADDR set before bind, so the query listener can share a port
// already bound by the host application. Windows has no SO_REUSEPORT
// equivalent to layer on top.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}
