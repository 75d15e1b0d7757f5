package main

import (
	"crypto/x509"
	"errors"
	"log/slog"
	"os"

	"github.com/sensiblebit/anchorkit"
	"github.com/spf13/cobra"
)

var (
	convertFlags    headerFlags
	convertNoSearch bool
	convertCatalog  string
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <certfile>...",
	Short: "Convert local PEM certificate files into a C header",
	Long:  "Parse PEM certificate files, resolve each file's last certificate to a trust store root, and write every root into one C header. Files that cannot contribute are skipped with a warning.",
	Example: `  anchorkit convert comodo.pem verisign.pem
  anchorkit convert --full-chain -o chain.h site-chain.pem
  anchorkit convert --no-search self-signed.pem`,
	RunE: runConvert,
}

func init() {
	convertFlags.register(convertCmd.Flags())
	convertCmd.Flags().BoolVarP(&convertNoSearch, "no-search", "n", false, "Emit each file's last certificate directly instead of resolving it against the store")
	convertCmd.Flags().StringVar(&convertCatalog, "catalog", "", "SQLite catalog database to record emitted anchors")

	registerCompletion(convertCmd, "use-store", fileCompletion)
	registerCompletion(convertCmd, "catalog", fileCompletion)
}

func runConvert(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}

	resolving := !convertFlags.fullChain && !convertNoSearch

	var store *anchorkit.Store
	if resolving {
		var err error
		store, err = convertFlags.loadStore()
		if err != nil {
			return err
		}
	}

	var anchors []*x509.Certificate
	sources := make(map[string][]*x509.Certificate)
	for _, path := range args {
		certs := loadCertFile(path)
		if certs == nil {
			continue
		}
		candidates, err := anchorkit.WalkChain(certs, convertFlags.fullChain)
		if err != nil {
			slog.Warn("skipping file", "path", path, "error", err)
			continue
		}
		for _, candidate := range candidates {
			anchor := candidate
			if resolving {
				anchor, err = store.Resolve(candidate, false)
				if err != nil {
					slog.Warn("no matching trust anchor", "path", path, "subject", candidate.Subject.String(), "error", err)
					continue
				}
			}
			anchors = append(anchors, anchor)
			sources[path] = append(sources[path], anchor)
		}
	}

	if len(anchors) == 0 {
		return errors.New("no trust anchors produced from the given files")
	}

	if err := convertFlags.writeHeader(anchors); err != nil {
		return err
	}
	recordAnchors(convertCatalog, sources)
	return nil
}

// loadCertFile reads and parses one PEM input, returning nil after logging
// when the file cannot contribute certificates.
func loadCertFile(path string) []*x509.Certificate {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("skipping file", "path", path, "error", err)
		return nil
	}
	certs, err := anchorkit.ParsePEMCertificates(data)
	if err != nil {
		slog.Warn("skipping file", "path", path, "error", err)
		return nil
	}
	slog.Info("loaded certificate file", "path", path, "certs", len(certs))
	return certs
}
