package anchorkit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// bytesPerLine is the hex-literal column count of emitted byte tables.
const bytesPerLine = 12

// EncodeArrayHeader writes certs as one flat C byte array holding their
// concatenated DER encodings, preceded by a define carrying the total byte
// count. Output is byte-for-byte reproducible for the same input list and
// names.
func EncodeArrayHeader(w io.Writer, certs []*x509.Certificate, arrayName, lengthName string) error {
	if !validCIdentifier(arrayName) {
		return fmt.Errorf("array name %q is not a valid C identifier", arrayName)
	}
	if !validCIdentifier(lengthName) {
		return fmt.Errorf("length name %q is not a valid C identifier", lengthName)
	}

	var der []byte
	for _, cert := range certs {
		der = append(der, cert.Raw...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "#define %s %d\n", lengthName, len(der))
	fmt.Fprintf(&sb, "const uint8_t %s[] = {\n", arrayName)
	writeByteTable(&sb, der)
	sb.WriteString("};\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

const bearRSAAnchor = `    {
        { (unsigned char *)TA_DN%[1]d, sizeof TA_DN%[1]d },
        %[2]s,
        {
            BR_KEYTYPE_RSA,
            { .rsa = {
                (unsigned char *)TA_RSA_N%[1]d, sizeof TA_RSA_N%[1]d,
                (unsigned char *)TA_RSA_E%[1]d, sizeof TA_RSA_E%[1]d,
            } }
        }
    },
`

const bearECAnchor = `    {
        { (unsigned char *)TA_DN%[1]d, sizeof TA_DN%[1]d },
        %[2]s,
        {
            BR_KEYTYPE_EC,
            { .ec = {
                %[3]s,
                (unsigned char *)TA_EC_Q%[1]d, sizeof TA_EC_Q%[1]d,
            } }
        }
    },
`

// EncodeBearSSLHeader writes certs as BearSSL br_x509_trust_anchor tables:
// per anchor a distinguished-name table plus key-material tables, then the
// anchor array itself. lengthName carries the ANCHOR COUNT, matching the
// TAs_NUM convention of BearSSL sketches, not a byte total. Only RSA and EC
// keys can be expressed; anything else is an error before any output is
// written.
func EncodeBearSSLHeader(w io.Writer, certs []*x509.Certificate, arrayName, lengthName string) error {
	if !validCIdentifier(arrayName) {
		return fmt.Errorf("array name %q is not a valid C identifier", arrayName)
	}
	if !validCIdentifier(lengthName) {
		return fmt.Errorf("length name %q is not a valid C identifier", lengthName)
	}

	var sb strings.Builder
	sb.WriteString("#ifndef _CERTIFICATES_H_\n")
	sb.WriteString("#define _CERTIFICATES_H_\n\n")
	sb.WriteString("#ifdef __cplusplus\nextern \"C\"\n{\n#endif\n\n")
	sb.WriteString("/* Trust anchors generated by anchorkit; do not edit. */\n\n")
	fmt.Fprintf(&sb, "#define %s %d\n\n", lengthName, len(certs))

	var anchors strings.Builder
	for i, cert := range certs {
		fmt.Fprintf(&sb, "/* index %d: %s */\n", i, cert.Subject)
		fmt.Fprintf(&sb, "static const unsigned char TA_DN%d[] = {\n", i)
		writeByteTable(&sb, cert.RawSubject)
		sb.WriteString("};\n\n")

		flag := "0"
		if cert.IsCA {
			flag = "BR_X509_TA_CA"
		}

		switch pub := cert.PublicKey.(type) {
		case *rsa.PublicKey:
			fmt.Fprintf(&sb, "static const unsigned char TA_RSA_N%d[] = {\n", i)
			writeByteTable(&sb, pub.N.Bytes())
			sb.WriteString("};\n\n")
			fmt.Fprintf(&sb, "static const unsigned char TA_RSA_E%d[] = {\n", i)
			writeByteTable(&sb, big.NewInt(int64(pub.E)).Bytes())
			sb.WriteString("};\n\n")
			fmt.Fprintf(&anchors, bearRSAAnchor, i, flag)
		case *ecdsa.PublicKey:
			curve, err := bearECCurve(pub.Curve)
			if err != nil {
				return fmt.Errorf("anchor %d (%s): %w", i, cert.Subject, err)
			}
			fmt.Fprintf(&sb, "static const unsigned char TA_EC_Q%d[] = {\n", i)
			writeByteTable(&sb, ecPointBytes(pub))
			sb.WriteString("};\n\n")
			fmt.Fprintf(&anchors, bearECAnchor, i, flag, curve)
		default:
			return fmt.Errorf("anchor %d (%s): BearSSL trust anchors support only RSA and EC keys, not %s",
				i, cert.Subject, PublicKeyAlgorithmName(cert.PublicKey))
		}
	}

	fmt.Fprintf(&sb, "static const br_x509_trust_anchor %s[] = {\n", arrayName)
	sb.WriteString(anchors.String())
	sb.WriteString("};\n\n")
	sb.WriteString("#ifdef __cplusplus\n} /* extern \"C\" */\n#endif\n\n")
	sb.WriteString("#endif /* ifndef _CERTIFICATES_H_ */\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// writeByteTable emits data as lowercase hex literals, twelve per line,
// two-space indented, with a comma after every byte including the last.
func writeByteTable(sb *strings.Builder, data []byte) {
	for i, b := range data {
		if i%bytesPerLine == 0 {
			sb.WriteString("  ")
		} else {
			sb.WriteString(" ")
		}
		fmt.Fprintf(sb, "0x%02x,", b)
		if i%bytesPerLine == bytesPerLine-1 || i == len(data)-1 {
			sb.WriteString("\n")
		}
	}
}

// validCIdentifier reports whether name can appear as a C identifier in the
// emitted header.
func validCIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// bearECCurve maps a Go curve to BearSSL's named curve constant.
func bearECCurve(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P224():
		return "BR_EC_secp224r1", nil
	case elliptic.P256():
		return "BR_EC_secp256r1", nil
	case elliptic.P384():
		return "BR_EC_secp384r1", nil
	case elliptic.P521():
		return "BR_EC_secp521r1", nil
	}
	return "", fmt.Errorf("unsupported elliptic curve %q", curve.Params().Name)
}

// ecPointBytes returns the uncompressed SEC 1 encoding of the public point,
// coordinates zero-padded to the curve width.
func ecPointBytes(pub *ecdsa.PublicKey) []byte {
	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*byteLen)
	out[0] = 4
	pub.X.FillBytes(out[1 : 1+byteLen])
	pub.Y.FillBytes(out[1+byteLen:])
	return out
}
