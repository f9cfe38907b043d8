// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"net"
	"net/netip"
	"time"
)

// DefaultMinValidLatency is the default validity floor for a sample.
//
// A response observed faster than this is treated as not having crossed
// the network. The value is a heuristic inherited from earlier tooling
// and is kept configurable through [Config.MinValidLatency]; its exact
// value has not been validated against loopback or LAN baselines.
const DefaultMinValidLatency = 800 * time.Microsecond

// DefaultReadBufferSize is the default size of the single response read.
const DefaultReadBufferSize = 4096

// DefaultUnwrapTimeout bounds the wait for the peer's close_notify when
// tearing down a TLS session to reuse its transport.
const DefaultUnwrapTimeout = 5 * time.Second

// DefaultDNSServer is the default DNS-over-UDP server used by [*ResolveFunc].
var DefaultDNSServer = netip.MustParseAddrPort("8.8.8.8:53")

// Config holds common configuration for tlsreuse operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// DNSServer is the DNS-over-UDP server used to resolve the target.
	//
	// Set by [NewConfig] to [DefaultDNSServer].
	DNSServer netip.AddrPort

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// IOTimeout bounds each send and receive of a sample. Zero means
	// no deadline, so a stalled peer blocks the experiment.
	//
	// Set by [NewConfig] to zero.
	IOTimeout time.Duration

	// MinValidLatency is the validity floor for a sample.
	//
	// Set by [NewConfig] to [DefaultMinValidLatency].
	MinValidLatency time.Duration

	// ReadBufferSize is the maximum number of bytes read per sample.
	//
	// Set by [NewConfig] to [DefaultReadBufferSize].
	ReadBufferSize int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// UnwrapTimeout bounds the close_notify exchange performed before
	// renegotiating TLS over an existing transport.
	//
	// Set by [NewConfig] to [DefaultUnwrapTimeout].
	UnwrapTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:          &net.Dialer{},
		DNSServer:       DefaultDNSServer,
		ErrClassifier:   DefaultErrClassifier,
		IOTimeout:       0,
		MinValidLatency: DefaultMinValidLatency,
		ReadBufferSize:  DefaultReadBufferSize,
		TimeNow:         time.Now,
		UnwrapTimeout:   DefaultUnwrapTimeout,
	}
}
