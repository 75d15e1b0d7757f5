package internal

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sensiblebit/anchorkit"
	_ "modernc.org/sqlite"
)

// Catalog records which trust anchors have been emitted into headers, keyed
// by certificate fingerprint and the source they came from. Re-running a
// download or convert refreshes the rows instead of duplicating them.
type Catalog struct {
	*sqlx.DB
}

// AnchorRecord is one catalog row.
type AnchorRecord struct {
	Fingerprint string    `db:"fingerprint"`
	Source      string    `db:"source"`
	SubjectCN   string    `db:"subject_cn"`
	KeyAlgo     string    `db:"key_algo"`
	NotAfter    time.Time `db:"not_after"`
	RecordedAt  time.Time `db:"recorded_at"`
}

// OpenCatalog opens the anchor catalog at path, creating the file and
// schema on first use.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// The driver returns SQLITE_BUSY under concurrent writers, so pin the
	// pool to a single connection.
	db.SetMaxOpenConns(1)

	catalog := &Catalog{DB: db}

	if err := catalog.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}

	slog.Debug("catalog opened", "path", path)

	return catalog, nil
}

func (c *Catalog) initSchema() error {
	_, err := c.Exec(`
		CREATE TABLE IF NOT EXISTS anchors (
			fingerprint text NOT NULL,
			source      text NOT NULL,
			subject_cn  text,
			key_algo    text NOT NULL,
			not_after   timestamp NOT NULL,
			recorded_at timestamp NOT NULL,
			PRIMARY KEY(fingerprint, source)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating anchors table: %w", err)
	}
	return nil
}

// Record upserts one row per certificate under the given source (a domain
// or an input file), refreshing recorded_at on repeat runs.
func (c *Catalog) Record(source string, certs []*x509.Certificate) error {
	now := time.Now().UTC()
	for _, cert := range certs {
		record := AnchorRecord{
			Fingerprint: anchorkit.CertFingerprint(cert),
			Source:      source,
			SubjectCN:   cert.Subject.CommonName,
			KeyAlgo:     anchorkit.PublicKeyAlgorithmName(cert.PublicKey),
			NotAfter:    cert.NotAfter.UTC(),
			RecordedAt:  now,
		}
		_, err := c.NamedExec(`
			INSERT OR REPLACE INTO anchors (fingerprint, source, subject_cn, key_algo, not_after, recorded_at)
			VALUES (:fingerprint, :source, :subject_cn, :key_algo, :not_after, :recorded_at)
		`, record)
		if err != nil {
			return fmt.Errorf("recording anchor %s: %w", record.Fingerprint, err)
		}
	}
	slog.Debug("anchors recorded", "source", source, "count", len(certs))
	return nil
}

// List returns every recorded anchor ordered by source, then subject.
func (c *Catalog) List() ([]AnchorRecord, error) {
	var records []AnchorRecord
	err := c.Select(&records, "SELECT * FROM anchors ORDER BY source, subject_cn, fingerprint")
	if err != nil {
		return nil, fmt.Errorf("listing anchors: %w", err)
	}
	return records, nil
}
