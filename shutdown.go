// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"errors"
	"net"
)

// closeRead shuts down the reading side of conn.
//
// Conns without per-direction shutdown (e.g., [net.Pipe]) are left alone;
// the close that always follows a shutdown releases them.
func closeRead(conn net.Conn) error {
	if hc, ok := conn.(interface{ CloseRead() error }); ok {
		return hc.CloseRead()
	}
	return nil
}

// closeWrite shuts down the writing side of conn.
func closeWrite(conn net.Conn) error {
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// shutdownConn shuts down both directions of conn.
func shutdownConn(conn net.Conn) error {
	return errors.Join(closeRead(conn), closeWrite(conn))
}
