// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"errors"
	"time"
)

// ErrEmptyResponse indicates that the single response read returned no bytes.
var ErrEmptyResponse = errors.New("tlsreuse: empty response")

// ErrImplausiblyFast indicates that the response arrived faster than the
// validity floor, so no real round trip can have occurred.
var ErrImplausiblyFast = errors.New("tlsreuse: response faster than validity floor")

// SampleResult is the outcome of one timed request/response exchange.
//
// A sample either succeeded, in which case Err is nil and Latency is the
// measured round trip, or failed, in which case Err says why. A sample
// rejected by the validity floor still records the Latency that was
// observed, for diagnostics.
type SampleResult struct {
	// Bytes is the number of response bytes returned by the single read.
	Bytes int

	// ConnectTime is the time spent opening the transport, or zero when
	// the sample reused an existing transport.
	ConnectTime time.Duration

	// Err is nil on success and otherwise the reason the sample is invalid.
	Err error

	// HandshakeTime is the time spent in the TLS handshake, or zero when
	// the sample reused an existing session.
	HandshakeTime time.Duration

	// Latency is the time between the start of the send and the end of
	// the first read.
	Latency time.Duration

	// Session describes the TLS session used, when one was established.
	Session SessionInfo

	// SpanID identifies the sample in the structured logs.
	SpanID string
}

// Valid returns whether the sample yielded a usable latency.
func (r SampleResult) Valid() bool {
	return r.Err == nil
}

// Rejected returns whether the exchange completed but the validity
// rules discarded it.
func (r SampleResult) Rejected() bool {
	return errors.Is(r.Err, ErrEmptyResponse) || errors.Is(r.Err, ErrImplausiblyFast)
}

// durationMillis converts a duration to fractional milliseconds.
func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
