package anchorkit

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"slices"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// String tags the cryptobyte/asn1 package does not name.
const (
	tagVisibleString   = cryptobyte_asn1.Tag(26)
	tagUniversalString = cryptobyte_asn1.Tag(28)
	tagBMPString       = cryptobyte_asn1.Tag(30)
)

// SubjectHash returns the OpenSSL-compatible hash of the certificate's
// subject name, the value printed by `openssl x509 -subject_hash`. Trust
// store indexes are keyed by this hash.
func SubjectHash(cert *x509.Certificate) uint32 {
	return NameHash(cert.RawSubject)
}

// IssuerHash returns the OpenSSL-compatible hash of the certificate's
// issuer name, the value printed by `openssl x509 -issuer_hash`.
func IssuerHash(cert *x509.Certificate) uint32 {
	return NameHash(cert.RawIssuer)
}

// NameHash computes OpenSSL's X509_NAME_hash over a DER-encoded X.501 Name:
// the name is canonicalized (string values folded and re-encoded as
// UTF8String, SET members re-sorted, outer SEQUENCE header dropped), the
// result is hashed with SHA-1, and the first four digest bytes are read as a
// little-endian integer. A name whose value encodings cannot be
// canonicalized is hashed over its raw DER bytes instead; the fallback is
// deterministic, so indexes and lookups built by this package stay
// consistent with each other.
func NameHash(der []byte) uint32 {
	enc, err := canonicalName(der)
	if err != nil {
		enc = der
	}
	sum := sha1.Sum(enc)
	return uint32(sum[0]) | uint32(sum[1])<<8 | uint32(sum[2])<<16 | uint32(sum[3])<<24
}

// canonicalName re-encodes a DER Name the way OpenSSL's x509_name_canon
// does: each RDN SET is emitted with canonicalized attribute values in DER
// SET-OF order, concatenated without the outer SEQUENCE header.
func canonicalName(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var name cryptobyte.String
	if !input.ReadASN1(&name, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("name is not a DER SEQUENCE")
	}

	var enc []byte
	for !name.Empty() {
		var rdn cryptobyte.String
		if !name.ReadASN1(&rdn, cryptobyte_asn1.SET) {
			return nil, errors.New("RDN is not a DER SET")
		}
		var atvs [][]byte
		for !rdn.Empty() {
			atv, err := canonicalATV(&rdn)
			if err != nil {
				return nil, err
			}
			atvs = append(atvs, atv)
		}
		slices.SortFunc(atvs, bytes.Compare)

		b := cryptobyte.NewBuilder(nil)
		b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
			for _, atv := range atvs {
				b.AddBytes(atv)
			}
		})
		set, err := b.Bytes()
		if err != nil {
			return nil, err
		}
		enc = append(enc, set...)
	}
	return enc, nil
}

// canonicalATV consumes one AttributeTypeAndValue from rdn and returns its
// canonical encoding. String-typed values are decoded to UTF-8, folded, and
// re-tagged as UTF8String; any other value is kept verbatim.
func canonicalATV(rdn *cryptobyte.String) ([]byte, error) {
	var atv cryptobyte.String
	if !rdn.ReadASN1(&atv, cryptobyte_asn1.SEQUENCE) {
		return nil, errors.New("attribute is not a DER SEQUENCE")
	}
	var oid cryptobyte.String
	if !atv.ReadASN1Element(&oid, cryptobyte_asn1.OBJECT_IDENTIFIER) {
		return nil, errors.New("attribute has no object identifier")
	}
	var value cryptobyte.String
	var tag cryptobyte_asn1.Tag
	if !atv.ReadAnyASN1Element(&value, &tag) || !atv.Empty() {
		return nil, errors.New("attribute has no value")
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(oid)
		if !isStringTag(tag) {
			b.AddBytes(value)
			return
		}
		var body cryptobyte.String
		if !value.ReadASN1(&body, tag) {
			b.SetError(errors.New("re-reading attribute value"))
			return
		}
		decoded, err := decodeNameString(tag, body)
		if err != nil {
			b.SetError(err)
			return
		}
		b.AddASN1(cryptobyte_asn1.UTF8String, func(b *cryptobyte.Builder) {
			b.AddBytes(foldString(decoded))
		})
	})
	return b.Bytes()
}

// isStringTag reports whether tag is one of the string types OpenSSL
// canonicalizes (its ASN1_MASK_CANON set).
func isStringTag(tag cryptobyte_asn1.Tag) bool {
	switch tag {
	case cryptobyte_asn1.UTF8String, cryptobyte_asn1.PrintableString,
		cryptobyte_asn1.T61String, cryptobyte_asn1.IA5String,
		tagVisibleString, tagUniversalString, tagBMPString:
		return true
	}
	return false
}

// decodeNameString converts an attribute value body to UTF-8. TeletexString
// is treated as Latin-1, matching OpenSSL's conversion.
func decodeNameString(tag cryptobyte_asn1.Tag, body []byte) ([]byte, error) {
	switch tag {
	case cryptobyte_asn1.T61String:
		out := make([]byte, 0, len(body))
		for _, c := range body {
			out = utf8.AppendRune(out, rune(c))
		}
		return out, nil
	case tagBMPString:
		if len(body)%2 != 0 {
			return nil, errors.New("BMPString with odd length")
		}
		u := make([]uint16, 0, len(body)/2)
		for i := 0; i < len(body); i += 2 {
			u = append(u, uint16(body[i])<<8|uint16(body[i+1]))
		}
		return []byte(string(utf16.Decode(u))), nil
	case tagUniversalString:
		if len(body)%4 != 0 {
			return nil, errors.New("UniversalString length not a multiple of 4")
		}
		out := make([]byte, 0, len(body))
		for i := 0; i < len(body); i += 4 {
			r := rune(body[i])<<24 | rune(body[i+1])<<16 | rune(body[i+2])<<8 | rune(body[i+3])
			if !utf8.ValidRune(r) {
				return nil, errors.New("UniversalString with invalid code point")
			}
			out = utf8.AppendRune(out, r)
		}
		return out, nil
	default:
		// UTF8String, PrintableString, IA5String, and VisibleString bodies
		// are already valid UTF-8.
		return body, nil
	}
}

// foldString trims surrounding whitespace, collapses internal runs to a
// single space, and lowercases ASCII letters. Bytes with the high bit set
// pass through untouched, matching OpenSSL's asn1_string_canon.
func foldString(s []byte) []byte {
	start, end := 0, len(s)
	for start < end && isNameSpace(s[start]) {
		start++
	}
	for end > start && isNameSpace(s[end-1]) {
		end--
	}
	out := make([]byte, 0, end-start)
	for i := start; i < end; {
		c := s[i]
		switch {
		case c >= 0x80:
			out = append(out, c)
			i++
		case isNameSpace(c):
			out = append(out, ' ')
			for i < end && isNameSpace(s[i]) {
				i++
			}
		default:
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			out = append(out, c)
			i++
		}
	}
	return out
}

func isNameSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
