//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package tlsreuse

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// Tests substitute a fake dialer to count how many transports an
// experiment opens.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnectFunc returns a new [*ConnectFunc].
//
// Samples dial "tcp" and the DNS resolver dials "udp". Any other
// network panics.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	runtimex.Assert(network == "tcp" || network == "udp")
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc opens a transport to a [netip.AddrPort].
//
// Returns either a valid [net.Conn] or an error, never both: a conn the
// [Dialer] returns alongside an error is closed.
type ConnectFunc struct {
	Dialer        Dialer
	ErrClassifier ErrClassifier
	Logger        SLogger

	// Network is either "tcp" or "udp".
	Network string

	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Conn] = &ConnectFunc{}

// Call implements [Func].
//
// The connectDone event carries connectTime, the same duration a sample
// reports as its connect time.
func (op *ConnectFunc) Call(ctx context.Context, address netip.AddrPort) (net.Conn, error) {
	remote := address.String()
	deadline, _ := ctx.Deadline()
	t0 := op.TimeNow()
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", remote),
		slog.Time("t", t0),
	)

	conn, err := op.Dialer.DialContext(ctx, op.Network, remote)
	if err != nil && conn != nil {
		conn.Close()
		conn = nil
	}

	t := op.TimeNow()
	op.Logger.Info(
		"connectDone",
		slog.Duration("connectTime", t.Sub(t0)),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", remote),
		slog.Time("t0", t0),
		slog.Time("t", t),
	)

	if err != nil {
		return nil, err
	}
	return conn, nil
}
