// Package anchorkit turns PEM trust stores and live TLS chains into
// firmware-embeddable trust anchor headers: it indexes roots by OpenSSL name
// hash, resolves candidate chains to their store anchors, and emits
// deterministic C byte tables.
package anchorkit

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// ParsePEMCertificates parses all certificates from a PEM bundle. Non-certificate
// blocks are skipped; a block that fails to parse is an error. At least one
// certificate must be present.
func ParsePEMCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

// ParsePEMCertificate parses a single certificate from PEM data.
func ParsePEMCertificate(pemData []byte) (*x509.Certificate, error) {
	certs, err := ParsePEMCertificates(pemData)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// CertToPEM encodes a certificate as PEM.
func CertToPEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	}))
}

// CertFingerprint returns the SHA-256 fingerprint of a certificate as a lowercase hex string.
func CertFingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(hash[:])
}

// PublicKeyAlgorithmName returns a human-readable name for a public key's algorithm.
func PublicKeyAlgorithmName(key crypto.PublicKey) string {
	switch key.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA"
	case *rsa.PublicKey:
		return "RSA"
	case ed25519.PublicKey, *ed25519.PublicKey:
		return "Ed25519"
	default:
		return "unknown"
	}
}

// IsPEM returns true if the data appears to contain PEM-encoded content.
func IsPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}

// Dedupe collapses byte-identical certificates, keeping the first occurrence
// of each and preserving input order. With keepDupes set it returns the input
// unchanged. Equality is over the full DER encoding, so two certificates
// whose name hashes collide are still distinct.
func Dedupe(certs []*x509.Certificate, keepDupes bool) []*x509.Certificate {
	if keepDupes {
		return certs
	}
	seen := make(map[string]bool, len(certs))
	result := make([]*x509.Certificate, 0, len(certs))
	for _, cert := range certs {
		key := string(cert.Raw)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, cert)
	}
	return result
}
