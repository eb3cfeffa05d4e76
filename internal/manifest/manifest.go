// Package manifest owns the actor manifest: the operator-authored TOML
// record naming the component binary, its declared interfaces, and the
// optional HTTP port. Immutable after load.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrConfig = errors.New("manifest: invalid configuration")

// Manifest describes one actor.
type Manifest struct {
	Name          string   `toml:"name"`
	ComponentPath string   `toml:"component_path"`
	Interfaces    []string `toml:"interfaces"`
	HTTPPort      *int     `toml:"http_port"`
	CorsOrigins   []string `toml:"cors_origins"`
}

// Load reads and validates a manifest from a TOML file.
func Load(path string) (Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: load %s: %v", ErrConfig, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Manifest{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrConfig, path, strings.Join(keys, ", "))
	}
	m.Name = strings.TrimSpace(m.Name)
	m.ComponentPath = strings.TrimSpace(m.ComponentPath)
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the structural requirements that make the actor
// startable. Failures here are fatal at startup.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfig)
	}
	if m.ComponentPath == "" {
		return fmt.Errorf("%w: component_path is required", ErrConfig)
	}
	if m.HTTPPort != nil && (*m.HTTPPort < 1 || *m.HTTPPort > 65535) {
		return fmt.Errorf("%w: http_port %d out of range", ErrConfig, *m.HTTPPort)
	}
	return nil
}

// Supports reports whether the manifest declares the given interface.
func (m Manifest) Supports(iface string) bool {
	for _, declared := range m.Interfaces {
		if strings.TrimSpace(declared) == iface {
			return true
		}
	}
	return false
}

// ComponentBytes reads the compiled component from disk.
func (m Manifest) ComponentBytes() ([]byte, error) {
	data, err := os.ReadFile(m.ComponentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read component %s: %v", ErrConfig, m.ComponentPath, err)
	}
	return data, nil
}
