// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/netstub"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IP literals are returned without touching the network.
func TestResolveFuncIPLiteral(t *testing.T) {
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Fatal("should not dial")
			return nil, nil
		},
	}

	addr, err := NewResolveFunc(cfg, DefaultSLogger()).Call(context.Background(), "34.49.121.93")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("34.49.121.93"), addr)
}

// Names are resolved by dialing the configured DNS server over UDP.
func TestResolveFuncDialError(t *testing.T) {
	wantErr := errors.New("network unreachable")
	cfg := NewConfig()
	cfg.DNSServer = netip.MustParseAddrPort("1.1.1.1:53")
	var gotNetwork, gotAddress string
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			gotNetwork, gotAddress = network, address
			return nil, wantErr
		},
	}

	_, err := NewResolveFunc(cfg, DefaultSLogger()).Call(context.Background(), "example.com")
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, "udp", gotNetwork)
	assert.Equal(t, "1.1.1.1:53", gotAddress)
}

// A failed exchange is reported and the UDP conn is closed.
func TestResolveFuncExchangeError(t *testing.T) {
	closed := false
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn := newMinimalConn()
			conn.WriteFunc = func(b []byte) (int, error) {
				return 0, errors.New("write error")
			}
			conn.CloseFunc = func() error {
				closed = true
				return nil
			}
			return conn, nil
		},
	}

	_, err := NewResolveFunc(cfg, DefaultSLogger()).Call(context.Background(), "example.com")
	require.Error(t, err)
	assert.True(t, closed)
}

// Exchange propagates write errors from the underlying connection.
func TestDNSOverUDPConnExchangeWriteError(t *testing.T) {
	wantErr := errors.New("write error")
	mockConn := newMinimalConn()
	mockConn.WriteFunc = func(b []byte) (int, error) {
		return 0, wantErr
	}

	logger, records := newCapturingLogger()
	dnsConn, err := NewDNSOverUDPConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)
	require.NoError(t, err)
	assert.Equal(t, mockConn, dnsConn.Conn())

	_, err = dnsConn.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
	require.Error(t, err)

	require.NotEmpty(t, *records)
	assert.Equal(t, "dnsExchangeStart", (*records)[0].Message)
	assert.Equal(t, "dnsExchangeDone", (*records)[len(*records)-1].Message)
}

// dnsUnusedDialer panics when DialContext is called.
func TestDNSUnusedDialerPanics(t *testing.T) {
	assert.Panics(t, func() {
		dnsUnusedDialer{}.DialContext(context.Background(), "udp", "127.0.0.1:53")
	})
}
