package main

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"github.com/sensiblebit/anchorkit"
	"github.com/sensiblebit/anchorkit/internal"
	"github.com/spf13/pflag"
)

// headerFlags collects the output-shaping flags shared by download and
// convert.
type headerFlags struct {
	certVar   string
	lengthVar string
	output    string
	storePath string
	keepDupes bool
	fullChain bool
	bearssl   bool
}

// register binds the shared flags onto a command's flag set.
func (f *headerFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.certVar, "cert-var", "c", "TAs", "Name of the emitted certificate variable")
	flags.StringVarP(&f.lengthVar, "cert-length-var", "l", "TAs_NUM", "Name of the emitted length define")
	flags.StringVarP(&f.output, "output", "o", "certificates.h", "Output header path, or - for stdout")
	flags.StringVarP(&f.storePath, "use-store", "s", "", "PEM trust store path (default: embedded Mozilla bundle)")
	flags.BoolVarP(&f.keepDupes, "keep-dupes", "d", false, "Keep duplicate certificates instead of collapsing them")
	flags.BoolVarP(&f.fullChain, "full-chain", "f", false, "Emit every certificate in each chain, not just the resolved root")
	flags.BoolVarP(&f.bearssl, "bearssl", "b", false, "Emit BearSSL trust anchor structs instead of a flat DER array")
}

// loadStore opens the configured trust store, defaulting to the embedded
// Mozilla bundle.
func (f *headerFlags) loadStore() (*anchorkit.Store, error) {
	if f.storePath == "" {
		return anchorkit.MozillaStore()
	}
	return anchorkit.LoadStoreFile(f.storePath)
}

// writeHeader dedupes the anchors, encodes them in the selected format, and
// writes the result to the output path or stdout. Nothing is written when
// encoding fails.
func (f *headerFlags) writeHeader(anchors []*x509.Certificate) error {
	anchors = anchorkit.Dedupe(anchors, f.keepDupes)

	var buf bytes.Buffer
	encode := anchorkit.EncodeArrayHeader
	if f.bearssl {
		encode = anchorkit.EncodeBearSSLHeader
	}
	if err := encode(&buf, anchors, f.certVar, f.lengthVar); err != nil {
		return err
	}

	if f.output == "-" {
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("writing header to stdout: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(f.output, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	slog.Info("header written", "path", f.output, "anchors", len(anchors))
	return nil
}

// recordAnchors books the emitted anchors into the catalog database. The
// header is already written at this point, so catalog failures only warn.
func recordAnchors(path string, sources map[string][]*x509.Certificate) {
	if path == "" {
		return
	}
	catalog, err := internal.OpenCatalog(path)
	if err != nil {
		slog.Warn("skipping catalog", "path", path, "error", err)
		return
	}
	defer catalog.Close()

	for source, anchors := range sources {
		if err := catalog.Record(source, anchors); err != nil {
			slog.Warn("recording anchors", "source", source, "error", err)
		}
	}
}
