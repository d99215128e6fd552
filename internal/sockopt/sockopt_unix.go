//go:build !windows

// Package sockopt supplies the net.ListenConfig.Control hook used by the
// node server to set SO_REUSEADDR on its listening socket, so a restarted
// node can rebind its port immediately instead of waiting out TIME_WAIT.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control sets SO_REUSEADDR on the raw socket before bind/listen.
func Control(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
