// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordMessages returns the messages of the records at the given level.
func recordMessages(records []slog.Record, level slog.Level) []string {
	var out []string
	for _, record := range records {
		if record.Level == level {
			out = append(out, record.Message)
		}
	}
	return out
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn and NameFunc returns
// "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// halfCloseConn is a [*netstub.FuncConn] that also supports per-direction
// shutdown, counting the calls.
type halfCloseConn struct {
	*netstub.FuncConn
	closeReads  int
	closeWrites int
}

func (c *halfCloseConn) CloseRead() error {
	c.closeReads++
	return nil
}

func (c *halfCloseConn) CloseWrite() error {
	c.closeWrites++
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeEndpoint simulates the measured HTTPS endpoint.
//
// It hands out raw conns from its dialer and TLS conns from its engine,
// counting transport opens, handshakes, and closes. Each written request
// is answered by the next read after advancing the clock by Latency. A
// read with no pending request returns [io.EOF], which completes the
// close_notify drain of an unwrap.
//
// Like [*tls.Conn], closing the write side of a TLS conn leaves an
// expired write deadline on its transport, and a handshake over a
// transport with an expired write deadline fails.
type fakeEndpoint struct {
	Clock *fakeClock

	// DialErrors is consumed one entry per dial; nil entries succeed.
	DialErrors []error

	// HandshakeErrors is consumed one entry per handshake.
	HandshakeErrors []error

	// DrainErr, when set, replaces the io.EOF of a read with no pending request.
	DrainErr error

	// ReadErr, when set, fails the read answering a request.
	ReadErr error

	Latency  time.Duration
	Response []byte

	// RawCloseErr is returned by every raw conn Close.
	RawCloseErr error

	// WriteDeadline is the write deadline of the most recently dialed transport.
	WriteDeadline time.Time

	CloseNotifies int
	Dials         int
	Handshakes    int
	RawCloses     int
	Requests      []string
	TLSCloses     int
}

func newFakeEndpoint(clock *fakeClock, latency time.Duration) *fakeEndpoint {
	return &fakeEndpoint{
		Clock:    clock,
		Latency:  latency,
		Response: []byte("HTTP/1.1 200 OK\r\nContent-Length: 61\r\n\r\n" + strings.Repeat("x", 61)),
	}
}

func (e *fakeEndpoint) Dialer() *netstub.FuncDialer {
	return &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			e.Dials++
			if len(e.DialErrors) > 0 {
				err := e.DialErrors[0]
				e.DialErrors = e.DialErrors[1:]
				if err != nil {
					return nil, err
				}
			}
			return e.newRawConn(), nil
		},
	}
}

func (e *fakeEndpoint) newRawConn() net.Conn {
	conn := newMinimalConn()
	conn.LocalAddrFunc = func() net.Addr {
		return net.TCPAddrFromAddrPort(netip.MustParseAddrPort("10.0.0.2:54321"))
	}
	conn.RemoteAddrFunc = func() net.Addr {
		return net.TCPAddrFromAddrPort(netip.MustParseAddrPort("34.49.121.93:443"))
	}
	e.WriteDeadline = time.Time{}
	conn.SetDeadlineFunc = func(t time.Time) error {
		e.WriteDeadline = t
		return nil
	}
	conn.SetReadDeadFunc = func(t time.Time) error {
		return nil
	}
	conn.SetWriteDeaFunc = func(t time.Time) error {
		e.WriteDeadline = t
		return nil
	}
	conn.CloseFunc = func() error {
		e.RawCloses++
		return e.RawCloseErr
	}
	return conn
}

func (e *fakeEndpoint) Engine() *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(raw net.Conn, config *tls.Config) TLSConn {
			return e.newTLSConn(raw)
		},
		NameFunc: func() string {
			return "fake"
		},
	}
}

func (e *fakeEndpoint) newTLSConn(raw net.Conn) TLSConn {
	pending := false
	conn := newMinimalConn()
	conn.WriteFunc = func(b []byte) (int, error) {
		e.Requests = append(e.Requests, string(b))
		pending = true
		return len(b), nil
	}
	conn.ReadFunc = func(b []byte) (int, error) {
		if !pending {
			if e.DrainErr != nil {
				return 0, e.DrainErr
			}
			return 0, io.EOF
		}
		pending = false
		e.Clock.Advance(e.Latency)
		if e.ReadErr != nil {
			return 0, e.ReadErr
		}
		return copy(b, e.Response), nil
	}
	conn.CloseFunc = func() error {
		e.TLSCloses++
		return raw.Close()
	}
	tconn := &tlsstub.FuncTLSConn{
		FuncConn: conn,
		ConnectionStateFunc: func() tls.ConnectionState {
			return tls.ConnectionState{
				CipherSuite:       tls.TLS_AES_128_GCM_SHA256,
				HandshakeComplete: true,
				ServerName:        "34.49.121.93",
				Version:           tls.VersionTLS13,
			}
		},
		HandshakeContextFunc: func(ctx context.Context) error {
			e.Handshakes++
			if !e.WriteDeadline.IsZero() && !e.Clock.Now().Before(e.WriteDeadline) {
				return os.ErrDeadlineExceeded
			}
			if len(e.HandshakeErrors) > 0 {
				err := e.HandshakeErrors[0]
				e.HandshakeErrors = e.HandshakeErrors[1:]
				return err
			}
			return nil
		},
	}
	closeWrite := func() error {
		e.CloseNotifies++
		return raw.SetWriteDeadline(e.Clock.Now())
	}
	return &fakeTLSConn{FuncTLSConn: tconn, closeWrite: closeWrite}
}

// fakeTLSConn adds write-side shutdown to a [*tlsstub.FuncTLSConn].
type fakeTLSConn struct {
	*tlsstub.FuncTLSConn
	closeWrite func() error
}

func (c *fakeTLSConn) CloseWrite() error {
	return c.closeWrite()
}

// newFakeSampler returns a [*Sampler] wired to endpoint through the
// production dial pipeline.
func newFakeSampler(endpoint *fakeEndpoint, logger SLogger) *Sampler {
	cfg := NewConfig()
	cfg.Dialer = endpoint.Dialer()
	cfg.TimeNow = endpoint.Clock.Now
	sampler := NewSampler(cfg, DefaultTarget(), NewTLSConfig(DefaultTargetHost), logger)
	sampler.Handshake.Engine = endpoint.Engine()
	return sampler
}
