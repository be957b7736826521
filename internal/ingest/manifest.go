package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the optional per-directory manifest.
const ManifestFile = "manifest.yaml"

// Manifest assigns titles and categories to the files of one directory.
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents"`
}

// ManifestEntry describes one file listed in a manifest.
type ManifestEntry struct {
	Filename string `yaml:"filename"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Source   string `yaml:"source"`
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	for i, e := range m.Documents {
		if strings.TrimSpace(e.Filename) == "" {
			return nil, fmt.Errorf("manifest %s: entry %d has no filename", path, i)
		}
	}
	return &m, nil
}

// loadDirManifest returns the manifest of dir, or nil when there is none.
func loadDirManifest(dir string) (*Manifest, error) {
	m, err := LoadManifest(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// Lookup returns the entry for filename.
func (m *Manifest) Lookup(filename string) (ManifestEntry, bool) {
	if m == nil {
		return ManifestEntry{}, false
	}
	for _, e := range m.Documents {
		if e.Filename == filename {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// HumanizeFilename turns "company-policies.md" into "Company Policies".
func HumanizeFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return name
	}
	return strings.Join(words, " ")
}
