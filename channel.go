// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import "net"

// Channel is the connection state carried from one sample to the next.
//
// The two implementations are [BareChannel] (a transport without a TLS
// session) and [*SecureChannel] (a transport bound to a negotiated
// session). Only the [*Sampler] moves a channel between the two states:
// it secures a [BareChannel] and unwraps a [*SecureChannel], so a
// transport cannot be wrapped twice.
type Channel interface {
	// Transport returns the underlying transport connection.
	Transport() net.Conn

	channel()
}

// BareChannel is an established transport with no TLS session on it.
type BareChannel struct {
	// Conn is the transport connection.
	Conn net.Conn
}

var _ Channel = BareChannel{}

// Transport implements [Channel].
func (c BareChannel) Transport() net.Conn {
	return c.Conn
}

func (BareChannel) channel() {}

// SecureChannel is a transport bound to a negotiated TLS session.
//
// Once secured, the transport must only be used through TLS until the
// [*Sampler] unwraps the session.
type SecureChannel struct {
	// Conn is the transport connection carrying the session.
	Conn net.Conn

	// Session describes the negotiated session.
	Session SessionInfo

	// TLS is the TLS connection layered over Conn.
	TLS TLSConn
}

var _ Channel = &SecureChannel{}

// Transport implements [Channel].
func (c *SecureChannel) Transport() net.Conn {
	return c.Conn
}

func (*SecureChannel) channel() {}

// Close sends close_notify and closes the transport.
//
// Calling Close on a nil *SecureChannel is a no-op returning nil, so a
// keep-alive experiment whose every sample failed can close its channel
// without checking.
func (c *SecureChannel) Close() error {
	if c == nil {
		return nil
	}
	return c.TLS.Close()
}
