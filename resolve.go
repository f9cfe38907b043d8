// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
	"github.com/miekg/dns"
)

// ErrNoAddress indicates that the DNS response contained no usable A record.
var ErrNoAddress = errors.New("tlsreuse: no IPv4 address for host")

// NewResolveFunc returns a new [*ResolveFunc] querying [Config.DNSServer].
func NewResolveFunc(cfg *Config, logger SLogger) *ResolveFunc {
	return &ResolveFunc{
		Connect: Compose2(
			Compose4(
				NewEndpointFunc(cfg.DNSServer),
				NewConnectFunc(cfg, "udp", logger),
				NewObserveConnFunc(cfg, logger),
				NewCancelWatchFunc(),
			),
			NewDNSOverUDPConnFunc(cfg, logger),
		),
	}
}

// ResolveFunc maps the target host to the IPv4 address to connect to.
//
// IP literals are returned unchanged. Names are resolved with a single
// DNS-over-UDP query for A records, once, before any experiment runs,
// so that name resolution never contributes to a sample.
type ResolveFunc struct {
	// Connect opens the DNS-over-UDP conn to use for the query.
	Connect Func[Unit, *DNSOverUDPConn]
}

var _ Func[string, netip.Addr] = &ResolveFunc{}

// Call implements [Func].
func (op *ResolveFunc) Call(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}

	dnsConn, err := op.Connect.Call(ctx, Unit{})
	if err != nil {
		return netip.Addr{}, err
	}
	defer dnsConn.Close()

	resp, err := dnsConn.Exchange(ctx, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return netip.Addr{}, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, record := range records {
		if addr, err := netip.ParseAddr(record); err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrNoAddress
}

// DNSOverUDPConn wraps a connected UDP conn for DNS-over-UDP exchanges.
//
// This type owns the underlying connection. Construct via [*DNSOverUDPConnFunc].
type DNSOverUDPConn struct {
	conn net.Conn

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// Close closes the underlying UDP connection.
func (c *DNSOverUDPConn) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (c *DNSOverUDPConn) Conn() net.Conn {
	return c.conn
}

// Exchange sends query and returns the matching response.
func (c *DNSOverUDPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	conn := c.conn
	t0 := c.TimeNow()
	deadline, _ := ctx.Deadline()
	attrs := []any{
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("serverProtocol", "udp"),
	}

	// The conn is already connected: a transport that tried to dial
	// would be a programming error, hence the panicking dialer.
	txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	txp.ObserveRawQuery = func(rawQuery []byte) {
		c.Logger.Info("dnsQuery", append(attrs, slog.Any("dnsRawQuery", rawQuery), slog.Time("t", t0))...)
	}
	txp.ObserveRawResponse = func(rawResp []byte) {
		c.Logger.Info("dnsResponse", append(attrs, slog.Any("dnsRawResponse", rawResp), slog.Time("t", c.TimeNow()))...)
	}

	c.Logger.Info("dnsExchangeStart", append(attrs, slog.Time("deadline", deadline), slog.Time("t", t0))...)
	resp, err := txp.ExchangeWithConn(ctx, conn, query)
	c.Logger.Info(
		"dnsExchangeDone",
		append(attrs,
			slog.Time("deadline", deadline),
			slog.Any("err", err),
			slog.String("errClass", c.ErrClassifier.Classify(err)),
			slog.Time("t0", t0),
			slog.Time("t", c.TimeNow()),
		)...,
	)
	return resp, err
}

// NewDNSOverUDPConnFunc returns a new [*DNSOverUDPConnFunc].
func NewDNSOverUDPConnFunc(cfg *Config, logger SLogger) *DNSOverUDPConnFunc {
	return &DNSOverUDPConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSOverUDPConnFunc wraps a [net.Conn] into a [*DNSOverUDPConn].
type DNSOverUDPConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[net.Conn, *DNSOverUDPConn] = &DNSOverUDPConnFunc{}

// Call implements [Func].
func (op *DNSOverUDPConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSOverUDPConn, error) {
	return &DNSOverUDPConn{
		conn:          conn,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}, nil
}

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("tlsreuse: DNS transport must not dial; this is a programming error")
}
