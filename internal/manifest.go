package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so manifests can spell timeouts like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string from the node value.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// ManifestDefaults holds manifest-wide fallbacks applied to targets that do
// not set their own values.
type ManifestDefaults struct {
	Port    int      `yaml:"port,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Target names one host to download a certificate chain from.
type Target struct {
	Domain string `yaml:"domain"`
	Port   int    `yaml:"port,omitempty"`
}

// Manifest describes a batch of download targets loaded from a YAML file.
type Manifest struct {
	Defaults ManifestDefaults `yaml:"defaults,omitempty"`
	Targets  []Target         `yaml:"targets"`
}

// LoadManifest reads and validates a target manifest. Unknown fields are
// rejected so typos fail loudly instead of silently downloading from the
// wrong port. Ports left unset on a target fall back to the manifest
// default; a port still zero after loading means the caller's flag decides.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	for i := range manifest.Targets {
		if manifest.Targets[i].Domain == "" {
			return nil, fmt.Errorf("manifest target %d: missing domain", i+1)
		}
		if manifest.Targets[i].Port == 0 {
			manifest.Targets[i].Port = manifest.Defaults.Port
		}
	}
	return &manifest, nil
}
