//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package tlsreuse

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc].
func NewObserveConnFunc(cfg *Config, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a [net.Conn] to log its I/O at [slog.LevelDebug].
//
// Because the TLS layer sits on top of the observed conn, the events
// describe TLS records on the wire, which makes it possible to tell the
// handshake flights apart from the request and response.
//
// All fields are safe to modify after construction but before first use.
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call implements [Func].
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	observed := &observedConn{
		conn:     conn,
		laddr:    safeconn.LocalAddr(conn),
		op:       op,
		protocol: safeconn.Network(conn),
		raddr:    safeconn.RemoteAddr(conn),
	}
	return observed, nil
}

type observedConn struct {
	closeonce sync.Once
	conn      net.Conn
	laddr     string
	op        *ObserveConnFunc
	protocol  string
	raddr     string
}

// endpointAttrs returns the attributes shared by every event.
func (c *observedConn) endpointAttrs(extra ...any) []any {
	return append([]any{
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
	}, extra...)
}

// doneAttrs returns the attributes of a *Done event.
func (c *observedConn) doneAttrs(t0 time.Time, err error, extra ...any) []any {
	return c.endpointAttrs(append([]any{
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	}, extra...)...)
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed].
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.op.Logger.Info("closeStart", c.endpointAttrs(slog.Time("t", t0))...)
		err = c.conn.Close()
		c.op.Logger.Info("closeDone", c.doneAttrs(t0, err)...)
	})
	return
}

// CloseRead shuts down the reading side of the wrapped conn.
func (c *observedConn) CloseRead() error {
	t0 := c.op.TimeNow()
	err := closeRead(c.conn)
	c.op.Logger.Debug("closeRead", c.doneAttrs(t0, err)...)
	return err
}

// CloseWrite shuts down the writing side of the wrapped conn.
func (c *observedConn) CloseWrite() error {
	t0 := c.op.TimeNow()
	err := closeWrite(c.conn)
	c.op.Logger.Debug("closeWrite", c.doneAttrs(t0, err)...)
	return err
}

// LocalAddr implements [net.Conn].
func (c *observedConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("readStart", c.endpointAttrs(slog.Int("ioBufferSize", len(buf)), slog.Time("t", t0))...)
	count, err := c.conn.Read(buf)
	c.op.Logger.Debug("readDone", c.doneAttrs(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}

// RemoteAddr implements [net.Conn].
func (c *observedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *observedConn) SetDeadline(t time.Time) error {
	c.op.Logger.Debug("setDeadline", c.endpointAttrs(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.op.Logger.Debug("setReadDeadline", c.endpointAttrs(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.op.Logger.Debug("setWriteDeadline", c.endpointAttrs(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.conn.SetWriteDeadline(t)
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("writeStart", c.endpointAttrs(slog.Int("ioBufferSize", len(data)), slog.Time("t", t0))...)
	count, err := c.conn.Write(data)
	c.op.Logger.Debug("writeDone", c.doneAttrs(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}
