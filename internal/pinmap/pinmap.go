// Package pinmap models a board's I/O table and the per-build resolution of
// logical signal requests onto package pins.
package pinmap

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Any requests the first still-available instance of a signal group.
const Any = -1

// Pins is an ordered list of package pin names. In board files it may be
// written as a whitespace-separated string or as a list of such strings.
type Pins []string

func (p *Pins) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = strings.Fields(s)
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return fmt.Errorf("pins: expected string or list: %w", err)
	}
	out := make(Pins, 0, len(l))
	for _, s := range l {
		out = append(out, strings.Fields(s)...)
	}
	*p = out
	return nil
}

type Subsignal struct {
	Name       string   `json:"name"`
	Pins       Pins     `json:"pins"`
	IOStandard string   `json:"iostandard,omitempty"`
	Misc       []string `json:"misc,omitempty"`
}

// Entry is one (name, index) row of a board I/O table. An entry has either
// Pins or Subsignals.
type Entry struct {
	Name       string      `json:"name"`
	Index      int         `json:"index"`
	Pins       Pins        `json:"pins,omitempty"`
	IOStandard string      `json:"iostandard,omitempty"`
	Misc       []string    `json:"misc,omitempty"`
	Subsignals []Subsignal `json:"subsignals,omitempty"`
}

func (e Entry) String() string { return fmt.Sprintf("%s:%d", e.Name, e.Index) }

// AllPins returns every package pin of the entry in declaration order.
func (e Entry) AllPins() []string {
	if len(e.Subsignals) == 0 {
		return slices.Clone(e.Pins)
	}
	var pins []string
	for _, s := range e.Subsignals {
		pins = append(pins, s.Pins...)
	}
	return pins
}

func (e Entry) clone() Entry {
	c := e
	c.Pins = slices.Clone(e.Pins)
	c.Misc = slices.Clone(e.Misc)
	c.Subsignals = make([]Subsignal, len(e.Subsignals))
	for i, s := range e.Subsignals {
		s.Pins = slices.Clone(s.Pins)
		s.Misc = slices.Clone(s.Misc)
		c.Subsignals[i] = s
	}
	if len(e.Subsignals) == 0 {
		c.Subsignals = nil
	}
	return c
}

type key struct {
	name  string
	index int
}

// Table is an immutable board I/O table.
type Table struct {
	entries []Entry
	byKey   map[key]int
	groups  map[string][]int
}

// NewTable validates entries and returns a Table over a private copy.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{
		byKey:  make(map[key]int, len(entries)),
		groups: make(map[string][]int),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("pinmap: entry with empty name")
		}
		if e.Index < 0 {
			return nil, fmt.Errorf("pinmap: %s: negative index", e)
		}
		k := key{e.Name, e.Index}
		if _, ok := t.byKey[k]; ok {
			return nil, fmt.Errorf("pinmap: duplicate entry %s", e)
		}
		if len(e.Pins) == 0 && len(e.Subsignals) == 0 {
			return nil, fmt.Errorf("pinmap: %s has no pins", e)
		}
		if len(e.Pins) > 0 && len(e.Subsignals) > 0 {
			return nil, fmt.Errorf("pinmap: %s has both pins and subsignals", e)
		}
		seen := map[string]bool{}
		for _, s := range e.Subsignals {
			if seen[s.Name] {
				return nil, fmt.Errorf("pinmap: %s: duplicate subsignal %q", e, s.Name)
			}
			seen[s.Name] = true
			if len(s.Pins) == 0 {
				return nil, fmt.Errorf("pinmap: %s: subsignal %q has no pins", e, s.Name)
			}
		}
		t.byKey[k] = len(t.entries)
		t.groups[e.Name] = append(t.groups[e.Name], len(t.entries))
		t.entries = append(t.entries, e.clone())
	}
	for name, idx := range t.groups {
		slices.SortFunc(idx, func(a, b int) int { return t.entries[a].Index - t.entries[b].Index })
		t.groups[name] = idx
	}
	return t, nil
}

// Entries returns a copy of all entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.clone()
	}
	return out
}

func (t *Table) Lookup(name string, index int) (Entry, bool) {
	i, ok := t.byKey[key{name, index}]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i].clone(), true
}

// Count returns the number of instances of the named group.
func (t *Table) Count(name string) int { return len(t.groups[name]) }

func (t *Table) Has(name string) bool { return t.Count(name) > 0 }

// With returns a new table with entries appended.
func (t *Table) With(entries ...Entry) (*Table, error) {
	return NewTable(append(t.Entries(), entries...))
}

// Without returns a new table with every instance of the named groups removed.
func (t *Table) Without(names ...string) (*Table, error) {
	var kept []Entry
	for _, e := range t.entries {
		if !slices.Contains(names, e.Name) {
			kept = append(kept, e)
		}
	}
	return NewTable(kept)
}
