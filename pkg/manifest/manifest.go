// Package manifest models the dependency sections of a JSON project manifest
// (package.json, bower.json) and computes the differences between two snapshots.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// SectionName identifies a dependency section within a manifest.
type SectionName string

const (
	// Dependencies holds runtime dependencies.
	Dependencies SectionName = "dependencies"

	// DevDependencies holds development-only dependencies.
	DevDependencies SectionName = "devDependencies"

	// Engines holds engine requirements (node, vscode, ...).
	Engines SectionName = "engines"
)

// Sections lists the recognised sections in processing order.
var Sections = []SectionName{Dependencies, DevDependencies, Engines}

// Section maps a dependency name to its version specifier.
// Version specifiers are opaque and only compared for equality.
type Section map[string]string

// Names returns the dependency names of the section in sorted order.
func (s Section) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manifest is a set of named dependency sections.
type Manifest map[SectionName]Section

// New returns a manifest with every recognised section present and empty.
func New() Manifest {
	m := make(Manifest, len(Sections))
	for _, name := range Sections {
		m[name] = Section{}
	}
	return m
}

// Section returns the named section, or an empty section if it is absent.
func (m Manifest) Section(name SectionName) Section {
	if s, ok := m[name]; ok && s != nil {
		return s
	}
	return Section{}
}

// Count returns the number of entries across all sections.
func (m Manifest) Count() int {
	total := 0
	for _, s := range m {
		total += len(s)
	}
	return total
}

// Parse builds a Manifest from raw JSON. Only recognised sections are kept.
// A section that is not an object is treated as empty, and an entry whose
// version is not a string keeps its compact JSON text as the version.
func Parse(data []byte) (Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to parse manifest: top-level value is not an object")
	}

	m := New()
	for _, name := range Sections {
		body, ok := raw[string(name)]
		if !ok {
			continue
		}
		m[name] = parseSection(body)
	}

	return m, nil
}

func parseSection(body json.RawMessage) Section {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		// arrays, strings and numbers: legacy "engines" forms and the like
		return Section{}
	}

	section := make(Section, len(entries))
	for name, value := range entries {
		var version string
		if err := json.Unmarshal(value, &version); err == nil {
			section[name] = version
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, value); err != nil {
			section[name] = string(value)
			continue
		}
		section[name] = compact.String()
	}
	return section
}

// ReadFile reads and parses the manifest at path. On failure it returns an
// empty manifest together with the error so callers can log and carry on.
func ReadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return New(), fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
