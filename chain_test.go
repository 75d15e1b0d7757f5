package anchorkit

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"
)

func TestWalkChain(t *testing.T) {
	// WHY: Root-only mode must pick the LAST presented certificate (nearest
	// the root) and full-chain mode must pass the chain through untouched.
	t.Parallel()

	pki := newTestPKI(t)
	chain := []*x509.Certificate{pki.leaf, pki.intermediate, pki.root}

	got, err := WalkChain(chain, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != pki.root {
		t.Error("root-only walk should return just the terminal certificate")
	}

	full, err := WalkChain(chain, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != len(chain) {
		t.Fatalf("got %d certificates, want %d", len(full), len(chain))
	}
	for i := range chain {
		if full[i] != chain[i] {
			t.Errorf("full-chain walk reordered index %d", i)
		}
	}
}

func TestWalkChain_Empty(t *testing.T) {
	// WHY: An empty chain has no terminal certificate; both modes must
	// report the sentinel so callers treat it like a failed connection.
	t.Parallel()

	for _, fullChain := range []bool{false, true} {
		if _, err := WalkChain(nil, fullChain); !errors.Is(err, ErrEmptyChain) {
			t.Errorf("fullChain=%v: got %v, want ErrEmptyChain", fullChain, err)
		}
	}
}

// startTLSServer serves the PKI's leaf+intermediate chain on a loopback
// port, completing handshakes until the test ends.
func startTLSServer(t *testing.T, pki testPKI) int {
	t.Helper()

	serverCert := tls.Certificate{
		Certificate: [][]byte{pki.leaf.Raw, pki.intermediate.Raw},
		PrivateKey:  pki.leafKey,
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{serverCert}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				_ = c.(*tls.Conn).Handshake()
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestFetchChain(t *testing.T) {
	// WHY: The fetcher must hand back the chain exactly as presented (leaf
	// first, no reordering, root omitted when the server omits it) after
	// validating it against the trust store.
	t.Parallel()

	pki := newTestPKI(t)
	port := startTLSServer(t, pki)

	roots := x509.NewCertPool()
	roots.AddCert(pki.root)
	fetcher := &Fetcher{Port: port, Timeout: 5 * time.Second, Roots: roots}

	chain, err := fetcher.FetchChain(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("got %d certificates, want 2", len(chain))
	}
	if !bytes.Equal(chain[0].Raw, pki.leaf.Raw) {
		t.Error("first certificate should be the presented leaf")
	}
	if !bytes.Equal(chain[1].Raw, pki.intermediate.Raw) {
		t.Error("second certificate should be the presented intermediate")
	}
}

func TestFetchChain_UntrustedRoot(t *testing.T) {
	// WHY: A chain that does not validate against the trust store must not
	// be downloadable; emitting an anchor nothing verified is worse than
	// refusing.
	t.Parallel()

	pki := newTestPKI(t)
	port := startTLSServer(t, pki)

	otherRoot, _ := newRootCA(t, "Unrelated Root CA")
	roots := x509.NewCertPool()
	roots.AddCert(otherRoot)
	fetcher := &Fetcher{Port: port, Timeout: 5 * time.Second, Roots: roots}

	if _, err := fetcher.FetchChain(context.Background(), "127.0.0.1"); err == nil {
		t.Fatal("expected verification failure against unrelated roots")
	}
}

func TestFetchChain_ContextCanceled(t *testing.T) {
	// WHY: Batch downloads must stay interruptible; a canceled context has
	// to stop the dial instead of waiting out the timeout.
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &Fetcher{Port: ln.Addr().(*net.TCPAddr).Port, Timeout: 5 * time.Second}
	if _, err := fetcher.FetchChain(ctx, "127.0.0.1"); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
