package anchorkit

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/breml/rootcerts/embedded"
)

// Store indexes trust anchors by the OpenSSL hash of the subject name each
// anchor asserts. It is built once per invocation and read-only afterwards.
type Store struct {
	anchors map[uint32]*x509.Certificate
}

// NewStore returns an empty trust store index.
func NewStore() *Store {
	return &Store{anchors: make(map[uint32]*x509.Certificate)}
}

// LoadStore parses a concatenated PEM trust store into an index keyed by each
// anchor's own subject hash. Every PEM block must be a valid CERTIFICATE
// block: a corrupt store must fail loudly rather than silently lose anchors.
// Text between blocks (bundle comments) is ignored. When two anchors share a
// subject hash the later one wins.
func LoadStore(pemData []byte) (*Store, error) {
	s := NewStore()
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected %q block in trust store", block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing trust store certificate: %w", err)
		}
		s.Add(cert)
	}
	return s, nil
}

// LoadStoreFile reads and parses a PEM trust store from disk.
func LoadStoreFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust store: %w", err)
	}
	store, err := LoadStore(data)
	if err != nil {
		return nil, fmt.Errorf("loading trust store %s: %w", path, err)
	}
	return store, nil
}

// MozillaStore parses the embedded Mozilla CA bundle, the default trust
// store when the caller does not name one.
func MozillaStore() (*Store, error) {
	store, err := LoadStore([]byte(embedded.MozillaCACertificatesPEM()))
	if err != nil {
		return nil, fmt.Errorf("loading embedded Mozilla roots: %w", err)
	}
	return store, nil
}

// Add indexes an anchor by its subject hash, replacing any previous anchor
// with the same hash.
func (s *Store) Add(cert *x509.Certificate) {
	s.anchors[SubjectHash(cert)] = cert
}

// Lookup returns the anchor whose subject hash equals hash.
func (s *Store) Lookup(hash uint32) (*x509.Certificate, bool) {
	cert, ok := s.anchors[hash]
	return cert, ok
}

// Len returns the number of indexed anchors.
func (s *Store) Len() int {
	return len(s.anchors)
}

// Pool returns the anchors as a certificate pool, for validating the
// connections chains are retrieved over.
func (s *Store) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range s.anchors {
		pool.AddCert(cert)
	}
	return pool
}

// ResolutionError reports a candidate certificate whose issuer has no anchor
// in the store.
type ResolutionError struct {
	Subject    string
	IssuerHash uint32
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no trust anchor for %q (issuer hash %08x)", e.Subject, e.IssuerHash)
}

// Resolve maps a candidate certificate to its trust anchor. With noSearch
// set the candidate itself is returned, for callers that assert their inputs
// are already roots. Otherwise the candidate's issuer hash is looked up and
// the store's entry is returned: the store copy is authoritative, not the
// candidate's self-reported issuer fields. A miss returns a *ResolutionError.
func (s *Store) Resolve(candidate *x509.Certificate, noSearch bool) (*x509.Certificate, error) {
	if noSearch {
		return candidate, nil
	}
	hash := IssuerHash(candidate)
	anchor, ok := s.anchors[hash]
	if !ok {
		return nil, &ResolutionError{Subject: candidate.Subject.String(), IssuerHash: hash}
	}
	return anchor, nil
}
