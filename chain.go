package anchorkit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrEmptyChain reports a peer or input that presented zero certificates.
var ErrEmptyChain = errors.New("certificate chain is empty")

// Fetcher retrieves TLS certificate chains as peers present them.
type Fetcher struct {
	// Port is the TLS port dialed on every host.
	Port int
	// Timeout bounds the dial, TLS handshake included.
	Timeout time.Duration
	// Roots verifies the peer during the handshake. Nil falls back to the
	// system pool.
	Roots *x509.CertPool
}

// FetchChain connects to host over TLS and returns the certificate chain
// exactly as the peer presented it, leaf first. The handshake verifies the
// peer against f.Roots: a chain that does not anchor in the trust store
// cannot be downloaded from it either.
func (f *Fetcher) FetchChain(ctx context.Context, host string) ([]*x509.Certificate, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(f.Port))

	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName: host,
			RootCAs:    f.Roots,
		},
	}
	dialer.NetDialer = &net.Dialer{
		Timeout: f.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	tlsConn := conn.(*tls.Conn)
	chain := tlsConn.ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, fmt.Errorf("fetching chain from %s: %w", addr, ErrEmptyChain)
	}
	return chain, nil
}

// WalkChain reduces a presented chain to the certificates worth anchoring:
// the terminal certificate (the last presented, nearest the root), or with
// fullChain the whole chain in presented order.
func WalkChain(chain []*x509.Certificate, fullChain bool) ([]*x509.Certificate, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	if fullChain {
		return chain, nil
	}
	return chain[len(chain)-1:], nil
}
