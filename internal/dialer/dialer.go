// Package dialer establishes a single TLS connection to a fixed upstream
// host:port, bounded by a caller-supplied context. It is the leaf
// component of the pool: it knows nothing about reserves, debt or
// backoff, only how to produce one connection or fail trying.
package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Dialer dials (network, address) and wraps the result in TLS using the
// configured client TLS parameters.
type Dialer struct {
	Network   string // "tcp" unless overridden by tests
	Address   string // host:port
	TLSConfig *tls.Config
}

// New returns a Dialer for host:port using tlsConfig for the handshake.
func New(host string, port int, tlsConfig *tls.Config) *Dialer {
	return &Dialer{
		Network:   "tcp",
		Address:   net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		TLSConfig: tlsConfig,
	}
}

// Dial performs the TCP connect and TLS handshake as one context-bounded
// operation: a timeout or cancellation on ctx aborts whichever of the two
// stages is in flight and releases any partial socket. The caller
// attaches the dial_timeout deadline to ctx before calling.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	td := &tls.Dialer{Config: d.TLSConfig}
	conn, err := td.DialContext(ctx, d.Network, d.Address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
