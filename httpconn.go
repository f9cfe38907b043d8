//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package tlsreuse

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// HTTPConn is an HTTP transport bound to a single, already secured connection.
//
// Round trips emit httpRoundTripStart/httpRoundTripDone events and the
// response body emits httpBodyStreamStart/httpBodyStreamDone events.
//
// The caller is responsible for calling [*HTTPConn.Close] when done.
type HTTPConn struct {
	// ALPN is the protocol negotiated during the handshake.
	ALPN string

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	closeIdle func()
	conn      net.Conn
	txp       http.RoundTripper
}

var _ http.RoundTripper = &HTTPConn{}

// RoundTrip implements [http.RoundTripper].
func (hc *HTTPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	t0 := hc.TimeNow()
	hc.Logger.Info(
		"httpRoundTripStart",
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", safeconn.Network(hc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t", t0),
		slog.String("tlsNegotiatedProtocol", hc.ALPN),
	)

	resp, err := hc.txp.RoundTrip(req)

	var (
		proto      string
		statusCode int
	)
	if resp != nil {
		proto, statusCode = resp.Proto, resp.StatusCode
	}
	hc.Logger.Info(
		"httpRoundTripDone",
		slog.Any("err", err),
		slog.String("errClass", hc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpProto", proto),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("httpUrl", req.URL.String()),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", safeconn.Network(hc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t0", t0),
		slog.Time("t", hc.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	resp.Body = newObservedBody(resp.Body, hc.conn, hc.ErrClassifier, hc.Logger, hc.TimeNow)
	return resp, nil
}

// Close releases the transport and closes the underlying connection.
func (hc *HTTPConn) Close() error {
	hc.closeIdle()
	return hc.conn.Close()
}

// Conn returns the underlying connection.
func (hc *HTTPConn) Conn() net.Conn {
	return hc.conn
}

// NewHTTPConnFunc returns a new [*HTTPConnFunc].
func NewHTTPConnFunc(cfg *Config, logger SLogger) *HTTPConnFunc {
	return &HTTPConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// HTTPConnFunc wraps a [TLSConn] into an [*HTTPConn].
//
// The transport is chosen from the negotiated ALPN: "h2" selects
// [*http2.Transport], anything else a keep-alive-less [*http.Transport].
// Either way, the transport dials exactly once, returning conn.
//
// All fields are safe to modify after construction but before first use.
type HTTPConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[TLSConn, *HTTPConn] = &HTTPConnFunc{}

// Call implements [Func].
func (op *HTTPConnFunc) Call(ctx context.Context, conn TLSConn) (*HTTPConn, error) {
	alpn := conn.ConnectionState().NegotiatedProtocol
	dialer := sud.NewSingleUseDialer(conn)
	hc := &HTTPConn{
		ALPN:          alpn,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
		conn:          conn,
	}

	switch alpn {
	case "h2":
		txp := &http2.Transport{DialTLSContext: dialer.DialTLSContext}
		hc.txp, hc.closeIdle = txp, txp.CloseIdleConnections
	default:
		txp := &http.Transport{
			DialContext:       dialer.DialContext,
			DialTLSContext:    dialer.DialContext,
			DisableKeepAlives: true,
		}
		hc.txp, hc.closeIdle = txp, txp.CloseIdleConnections
	}
	return hc, nil
}
