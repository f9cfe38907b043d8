// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"fmt"
	"net/netip"
)

// Default target, matching the echo endpoint the tool was written for.
const (
	DefaultTargetHost = "34.49.121.93"
	DefaultTargetPort = 443
	DefaultTargetPath = "/internal-echo"
)

// Target is the single fixed endpoint every sample talks to.
type Target struct {
	// Address is the resolved address to connect to.
	Address netip.AddrPort

	// Host is used for the Host header and as the TLS server name.
	Host string

	// Path is the request path.
	Path string
}

// DefaultTarget returns the [Target] built from the default constants.
func DefaultTarget() Target {
	return Target{
		Address: netip.AddrPortFrom(netip.MustParseAddr(DefaultTargetHost), DefaultTargetPort),
		Host:    DefaultTargetHost,
		Path:    DefaultTargetPath,
	}
}

// Request returns the bytes of the fixed HTTP/1.1 request.
//
// The Connection header is "keep-alive" or "close" depending on keepAlive.
func (t Target) Request(keepAlive bool) []byte {
	connection := "close"
	if keepAlive {
		connection = "keep-alive"
	}
	return fmt.Appendf(nil, "GET %s HTTP/1.1\r\nHost: %s\r\nConnection: %s\r\n\r\n", t.Path, t.Host, connection)
}

// URL returns the https URL equivalent to the fixed request.
func (t Target) URL() string {
	return fmt.Sprintf("https://%s%s", t.Host, t.Path)
}

// NewEndpointFunc returns a [Func] that always returns the given [netip.AddrPort].
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
