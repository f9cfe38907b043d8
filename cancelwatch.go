// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"net"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc closes the connection when the context is done.
//
// The [*Sampler] passes the experiment context down to the dial pipeline,
// so a keep-alive channel lives at most as long as its experiment and an
// interrupt (^C) unblocks a read that would otherwise never return.
//
// Closing the returned conn unregisters the watcher, so no goroutine
// outlives the connection. The returned conn forwards per-direction
// shutdown to the wrapped conn when it supports it.
type CancelWatchFunc struct{}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call implements [Func].
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// CloseRead shuts down the reading side of the underlying connection.
func (c *cancelWatchedConn) CloseRead() error {
	return closeRead(c.Conn)
}

// CloseWrite shuts down the writing side of the underlying connection.
func (c *cancelWatchedConn) CloseWrite() error {
	return closeWrite(c.Conn)
}
