// Package heights is the fallback height table: a static embed-kind →
// pixels mapping consulted when every negotiation strategy has failed.
// Values are empirically tuned per provider, not derived.
package heights

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultHeight applies to kinds with no table entry.
const DefaultHeight = 500

// Table maps embed kinds to heuristic fallback heights.
type Table struct {
	byKind map[string]int
	def    int
}

// Defaults returns the built-in table.
func Defaults() *Table {
	return &Table{
		byKind: map[string]int{
			"status":   550,
			"timeline": 600,
			"video":    395,
			"audio":    152,
			"gallery":  480,
			"document": 700,
		},
		def: DefaultHeight,
	}
}

// fileFormat is the YAML shape of a heights file.
type fileFormat struct {
	Default int            `yaml:"default"`
	Kinds   map[string]int `yaml:"kinds"`
}

// LoadFile reads a heights table from a YAML file. Entries merge over the
// built-in defaults; a zero or missing default keeps DefaultHeight.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heights: read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("heights: parse %s: %w", path, err)
	}
	t := Defaults()
	if f.Default > 0 {
		t.def = f.Default
	}
	for kind, px := range f.Kinds {
		if px > 0 {
			t.byKind[kind] = px
		}
	}
	return t, nil
}

// Lookup returns the fallback height for kind, or the default for unknown
// kinds.
func (t *Table) Lookup(kind string) int {
	if px, ok := t.byKind[kind]; ok {
		return px
	}
	return t.def
}

// Set overrides one entry. Used by configuration loading and tests.
func (t *Table) Set(kind string, px int) {
	t.byKind[kind] = px
}

// SetDefault overrides the default height.
func (t *Table) SetDefault(px int) {
	if px > 0 {
		t.def = px
	}
}
