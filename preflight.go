// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// PreflightProtocols are the ALPN protocols offered by the preflight.
var PreflightProtocols = []string{"h2", "http/1.1"}

// PreflightResult summarizes the preflight response.
type PreflightResult struct {
	// ALPN is the negotiated application protocol.
	ALPN string `yaml:"alpn"`

	// BodyBytes is the number of body bytes received.
	BodyBytes int64 `yaml:"body_bytes"`

	// Proto is the HTTP protocol version of the response.
	Proto string `yaml:"proto"`

	// StatusCode is the HTTP status code.
	StatusCode int `yaml:"status_code"`
}

// NewPreflightFunc returns a new [*PreflightFunc] for target.
//
// The tlsConfig is cloned and its NextProtos replaced with
// [PreflightProtocols]; the original is left untouched.
func NewPreflightFunc(cfg *Config, target Target, tlsConfig *tls.Config, logger SLogger) *PreflightFunc {
	config := tlsConfig.Clone()
	config.NextProtos = PreflightProtocols
	return &PreflightFunc{
		Connect: Compose3(
			Compose4(
				NewEndpointFunc(target.Address),
				NewConnectFunc(cfg, "tcp", logger),
				NewObserveConnFunc(cfg, logger),
				NewCancelWatchFunc(),
			),
			NewTLSHandshakeFunc(cfg, config, logger),
			NewHTTPConnFunc(cfg, logger),
		),
		Logger:  logger,
		Target:  target,
		TimeNow: cfg.TimeNow,
	}
}

// PreflightFunc sends one ordinary HTTPS GET for the target URL over
// a fresh connection, to check the endpoint before measuring it.
//
// All fields are safe to modify after construction but before first use.
type PreflightFunc struct {
	// Connect opens a new [*HTTPConn] to the target.
	Connect Func[Unit, *HTTPConn]

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Target is the endpoint to check.
	Target Target

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[Unit, PreflightResult] = &PreflightFunc{}

// Call implements [Func].
func (op *PreflightFunc) Call(ctx context.Context, _ Unit) (PreflightResult, error) {
	hc, err := op.Connect.Call(ctx, Unit{})
	if err != nil {
		return PreflightResult{}, err
	}
	defer hc.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, op.Target.URL(), nil)
	if err != nil {
		return PreflightResult{}, err
	}
	resp, err := hc.RoundTrip(req)
	if err != nil {
		return PreflightResult{}, err
	}
	defer resp.Body.Close()

	count, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return PreflightResult{}, err
	}

	result := PreflightResult{
		ALPN:       hc.ALPN,
		BodyBytes:  count,
		Proto:      resp.Proto,
		StatusCode: resp.StatusCode,
	}
	op.Logger.Info(
		"preflightDone",
		slog.String("alpn", result.ALPN),
		slog.Int64("bodyBytes", result.BodyBytes),
		slog.String("httpProto", result.Proto),
		slog.Int("httpResponseStatusCode", result.StatusCode),
		slog.Time("t", op.TimeNow()),
	)
	return result, nil
}
