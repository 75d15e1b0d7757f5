package main

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/sensiblebit/anchorkit"
	"github.com/sensiblebit/anchorkit/internal"
	"github.com/spf13/cobra"
)

var (
	downloadFlags    headerFlags
	downloadPort     int
	downloadTimeout  time.Duration
	downloadManifest string
	downloadCatalog  string
)

var downloadCmd = &cobra.Command{
	Use:   "download [flags] <domain>...",
	Short: "Download TLS chains and emit their roots as a C header",
	Long:  "Connect to each domain, download the presented certificate chain, resolve it to a trust store root, and write every root into one C header. Any failed domain aborts the batch before output is written.",
	Example: `  anchorkit download www.example.com
  anchorkit download -p 8443 -o certs.h internal.corp
  anchorkit download --manifest targets.yaml --catalog anchors.db`,
	RunE: runDownload,
}

func init() {
	downloadFlags.register(downloadCmd.Flags())
	downloadCmd.Flags().IntVarP(&downloadPort, "port", "p", 443, "TLS port to connect to")
	downloadCmd.Flags().DurationVar(&downloadTimeout, "timeout", 30*time.Second, "Per-connection timeout")
	downloadCmd.Flags().StringVar(&downloadManifest, "manifest", "", "YAML manifest supplying download targets")
	downloadCmd.Flags().StringVar(&downloadCatalog, "catalog", "", "SQLite catalog database to record emitted anchors")

	registerCompletion(downloadCmd, "use-store", fileCompletion)
	registerCompletion(downloadCmd, "manifest", fileCompletion)
	registerCompletion(downloadCmd, "catalog", fileCompletion)
}

func runDownload(cmd *cobra.Command, args []string) error {
	targets, timeout, err := downloadTargets(cmd, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	store, err := downloadFlags.loadStore()
	if err != nil {
		return err
	}

	// Fetch and resolve everything before writing anything. A header that
	// silently lacks a requested domain is worse than no header.
	var anchors []*x509.Certificate
	sources := make(map[string][]*x509.Certificate)
	for _, target := range targets {
		fetcher := &anchorkit.Fetcher{
			Port:    target.Port,
			Timeout: timeout,
			Roots:   store.Pool(),
		}
		chain, err := fetcher.FetchChain(cmd.Context(), target.Domain)
		if err != nil {
			return err
		}
		slog.Info("retrieved certificate", "domain", target.Domain, "chain", len(chain))

		candidates, err := anchorkit.WalkChain(chain, downloadFlags.fullChain)
		if err != nil {
			return fmt.Errorf("%s: %w", target.Domain, err)
		}
		for _, candidate := range candidates {
			anchor := candidate
			if !downloadFlags.fullChain {
				anchor, err = store.Resolve(candidate, false)
				if err != nil {
					return fmt.Errorf("%s: %w", target.Domain, err)
				}
			}
			anchors = append(anchors, anchor)
			sources[target.Domain] = append(sources[target.Domain], anchor)
		}
	}

	if err := downloadFlags.writeHeader(anchors); err != nil {
		return err
	}
	recordAnchors(downloadCatalog, sources)
	return nil
}

// downloadTargets merges manifest targets with positional domains and picks
// the effective timeout. Manifest targets come first so the header stays
// diff-stable for a fixed manifest.
func downloadTargets(cmd *cobra.Command, args []string) ([]internal.Target, time.Duration, error) {
	timeout := downloadTimeout
	var targets []internal.Target

	if downloadManifest != "" {
		manifest, err := internal.LoadManifest(downloadManifest)
		if err != nil {
			return nil, 0, err
		}
		if d := time.Duration(manifest.Defaults.Timeout); d > 0 && !cmd.Flags().Changed("timeout") {
			timeout = d
		}
		targets = append(targets, manifest.Targets...)
	}
	for _, domain := range args {
		targets = append(targets, internal.Target{Domain: domain})
	}
	for i := range targets {
		if targets[i].Port == 0 {
			targets[i].Port = downloadPort
		}
	}
	return targets, timeout, nil
}
