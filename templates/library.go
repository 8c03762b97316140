package templates

// Template Library
//
// Reference spectra keyed by (SN type, age bin), pre-resampled onto the
// canonical grid with the same normalization the live pipeline applies. The
// corpus is loaded once at startup from a JSON file and shared read-only
// across all requests, so lookups need no locking.

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	"sn-classify/faults"
	"sn-classify/spectrum"
)

// Key identifies a template by supernova type and age bin (for example
// "Ia" / "2 to 6").
type Key struct {
	Type   string `json:"type"`
	AgeBin string `json:"ageBin"`
}

// Template is an immutable reference spectrum on the canonical grid.
// MinIndex/MaxIndex bound the bins covered by real template data.
type Template struct {
	Type     string    `json:"type"`
	AgeBin   string    `json:"ageBin"`
	Flux     []float64 `json:"flux"`
	MinIndex int       `json:"minIndex"`
	MaxIndex int       `json:"maxIndex"`
}

// Key returns the lookup key of the template.
func (t *Template) Key() Key { return Key{Type: t.Type, AgeBin: t.AgeBin} }

// Library is the immutable template corpus.
type Library struct {
	grid      *spectrum.Grid
	templates map[Key]*Template
	keys      []Key
}

// LoadLibrary reads the template corpus from a JSON file. Any structural
// problem is a configuration error: the process must not serve traffic with
// a broken corpus.
func LoadLibrary(path string, grid *spectrum.Grid) (*Library, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to read template corpus %s", path)
	}

	var templates []Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to parse template corpus %s", path)
	}

	return NewLibrary(grid, templates)
}

// NewLibrary validates a template set and builds the lookup structures.
func NewLibrary(grid *spectrum.Grid, templates []Template) (*Library, error) {
	if len(templates) == 0 {
		return nil, faults.New(faults.Configuration, "template corpus is empty")
	}

	byKey := make(map[Key]*Template, len(templates))
	for idx := range templates {
		tpl := templates[idx]
		if tpl.Type == "" || tpl.AgeBin == "" {
			return nil, faults.New(faults.Configuration, "template %d missing type or age bin", idx)
		}
		if len(tpl.Flux) != grid.Size() {
			return nil, faults.New(faults.Configuration,
				"template %s (%s) has %d bins, expected %d",
				tpl.Type, tpl.AgeBin, len(tpl.Flux), grid.Size())
		}
		for i, v := range tpl.Flux {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, faults.New(faults.Configuration,
					"template %s (%s) has non-finite flux at bin %d", tpl.Type, tpl.AgeBin, i)
			}
		}
		if tpl.MaxIndex <= tpl.MinIndex {
			tpl.MinIndex, tpl.MaxIndex = deriveCoverage(tpl.Flux)
		}

		key := tpl.Key()
		if _, dup := byKey[key]; dup {
			return nil, faults.New(faults.Configuration,
				"duplicate template for type %q age bin %q", tpl.Type, tpl.AgeBin)
		}
		byKey[key] = &tpl
	}

	keys := make([]Key, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].AgeBin < keys[j].AgeBin
	})

	return &Library{grid: grid, templates: byKey, keys: keys}, nil
}

// Lookup returns the template for an exact (type, age bin) key.
func (l *Library) Lookup(snType, ageBin string) (*Template, error) {
	tpl, ok := l.templates[Key{Type: snType, AgeBin: ageBin}]
	if !ok {
		return nil, faults.New(faults.NotFound,
			"no template for type %q age bin %q", snType, ageBin)
	}
	return tpl, nil
}

// ForType returns every template of the given SN type, ordered by age bin.
func (l *Library) ForType(snType string) []*Template {
	out := make([]*Template, 0, 8)
	for _, key := range l.keys {
		if key.Type == snType {
			out = append(out, l.templates[key])
		}
	}
	return out
}

// All returns every template in deterministic key order.
func (l *Library) All() []*Template {
	out := make([]*Template, 0, len(l.keys))
	for _, key := range l.keys {
		out = append(out, l.templates[key])
	}
	return out
}

// Keys enumerates every valid (type, age bin) pair in deterministic order.
func (l *Library) Keys() []Key {
	out := make([]Key, len(l.keys))
	copy(out, l.keys)
	return out
}

// Types returns the distinct SN types in the corpus.
func (l *Library) Types() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	for _, key := range l.keys {
		if !seen[key.Type] {
			seen[key.Type] = true
			out = append(out, key.Type)
		}
	}
	return out
}

// Count returns the number of templates in the corpus.
func (l *Library) Count() int { return len(l.templates) }

// Grid returns the canonical grid the corpus is sampled on.
func (l *Library) Grid() *spectrum.Grid { return l.grid }

// deriveCoverage finds the data-covered region of a template whose flux
// outside the data sits at the flat fill value.
func deriveCoverage(flux []float64) (int, int) {
	min, max := -1, -1
	for i, v := range flux {
		if math.Abs(v-outerFill) > 1e-9 {
			if min < 0 {
				min = i
			}
			max = i
		}
	}
	if min < 0 || max <= min {
		return 0, len(flux) - 1
	}
	return min, max
}
