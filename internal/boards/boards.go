// Package boards holds the board definitions: device, pin map, reference
// clock, toolchain and programmer of every supported FPGA board.
package boards

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/socerr"
	"github.com/appkins-org/go-socbuild/internal/toolchain"
)

//go:embed data/*.yaml
var builtin embed.FS

// Clock is the board's default reference oscillator.
type Clock struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Freq  int64  `json:"freq"`
}

// PLL names the clocking primitive family of the device.
type PLL struct {
	Family     string `json:"family"`
	SpeedGrade int    `json:"speedgrade"`
}

type Programmer struct {
	Name string `json:"name"`
	toolchain.ProgrammerOptions
}

type Flash struct {
	Interface string `json:"interface"`
	SizeMB    int    `json:"size_mb"`
}

// Variant adds or removes I/O on top of the base pin map, e.g. a dock.
type Variant struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IO          []pinmap.Entry `json:"io,omitempty"`
	Remove      []string       `json:"remove,omitempty"`
}

// Definition is a board as described in its YAML file.
type Definition struct {
	ID                string         `json:"id"`
	Vendor            string         `json:"vendor"`
	Description       string         `json:"description,omitempty"`
	Device            string         `json:"device"`
	Family            string         `json:"family,omitempty"`
	Toolchain         string         `json:"toolchain"`
	Programmer        Programmer     `json:"programmer"`
	Clock             Clock          `json:"clock"`
	PLL               PLL            `json:"pll"`
	Flash             *Flash         `json:"flash,omitempty"`
	Commands          []string       `json:"commands,omitempty"`
	BitstreamCommands []string       `json:"bitstream_commands,omitempty"`
	IO                []pinmap.Entry `json:"io"`
	Variants          []Variant      `json:"variants,omitempty"`
	DefaultVariant    string         `json:"default_variant,omitempty"`
}

func (d *Definition) validate() error {
	switch {
	case d.ID == "":
		return socerr.New(socerr.InvalidOption, "board", "definition without id")
	case d.Device == "":
		return socerr.New(socerr.InvalidOption, d.ID, "no device")
	case d.Toolchain == "":
		return socerr.New(socerr.InvalidOption, d.ID, "no toolchain")
	case d.Clock.Name == "" || d.Clock.Freq <= 0:
		return socerr.New(socerr.InvalidOption, d.ID, "no default clock")
	}
	if _, ok := clock.LookupFamily(d.PLL.Family); !ok {
		return socerr.New(socerr.InvalidOption, d.ID, "unknown PLL family %q", d.PLL.Family)
	}
	for _, v := range d.Variants {
		if _, err := d.table(v.Name); err != nil {
			return err
		}
	}
	if len(d.Variants) == 0 {
		if _, err := d.table(""); err != nil {
			return err
		}
	}
	return nil
}

func (d *Definition) variant(name string) (*Variant, error) {
	if name == "" {
		name = d.DefaultVariant
	}
	if name == "" {
		if len(d.Variants) > 0 {
			return &d.Variants[0], nil
		}
		return nil, nil
	}
	for i := range d.Variants {
		if d.Variants[i].Name == name {
			return &d.Variants[i], nil
		}
	}
	return nil, socerr.New(socerr.InvalidOption, d.ID, "unknown variant %q, want one of %v", name, d.VariantNames())
}

// VariantNames lists the variant names in declaration order.
func (d *Definition) VariantNames() []string {
	names := make([]string, 0, len(d.Variants))
	for _, v := range d.Variants {
		names = append(names, v.Name)
	}
	return names
}

func (d *Definition) table(variant string) (*pinmap.Table, error) {
	t, err := pinmap.NewTable(d.IO)
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", d.ID, err)
	}
	v, err := d.variant(variant)
	if err != nil || v == nil {
		return t, err
	}
	if len(v.Remove) > 0 {
		if t, err = t.Without(v.Remove...); err != nil {
			return nil, fmt.Errorf("board %s variant %s: %w", d.ID, v.Name, err)
		}
	}
	if len(v.IO) > 0 {
		if t, err = t.With(v.IO...); err != nil {
			return nil, fmt.Errorf("board %s variant %s: %w", d.ID, v.Name, err)
		}
	}
	return t, nil
}

// Board is a definition bound to a variant, its toolchain and programmer.
type Board struct {
	ID          string
	Vendor      string
	Description string
	Device      string
	Variant     string
	Clock       Clock
	PLL         PLL
	Pins        *pinmap.Table
	Platform    toolchain.Platform
	Toolchain   toolchain.Toolchain
	Programmer  toolchain.Programmer
}

// ClockSource returns the default oscillator as a clock source.
func (b *Board) ClockSource() clock.Source {
	return clock.Source{Name: b.Clock.Name, Pin: b.Clock.Name, Index: b.Clock.Index, Freq: b.Clock.Freq}
}

// Decode parses one YAML board definition.
func Decode(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load decodes every *.yaml file at the root of fsys, in name order.
func Load(fsys fs.FS) ([]*Definition, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		def, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Registry is the set of known boards.
type Registry struct {
	set  *toolchain.Set
	log  logr.Logger
	defs map[string]*Definition
}

// NewRegistry loads the built-in boards and then every directory in dirs.
func NewRegistry(set *toolchain.Set, log logr.Logger, dirs ...string) (*Registry, error) {
	r := &Registry{set: set, log: log, defs: map[string]*Definition{}}
	sub, err := fs.Sub(builtin, "data")
	if err != nil {
		return nil, err
	}
	defs, err := Load(sub)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if err := r.Add(d); err != nil {
			return nil, err
		}
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		defs, err := Load(os.DirFS(dir))
		if err != nil {
			return nil, fmt.Errorf("loading boards from %s: %w", path.Clean(dir), err)
		}
		for _, d := range defs {
			if err := r.Add(d); err != nil {
				return nil, err
			}
			log.V(1).Info("user board loaded", "board", d.ID, "dir", dir)
		}
	}
	return r, nil
}

// Add registers def. Ids are unique.
func (r *Registry) Add(def *Definition) error {
	if _, ok := r.defs[def.ID]; ok {
		return socerr.New(socerr.ResourceInUse, def.ID, "board defined twice")
	}
	r.defs[def.ID] = def
	return nil
}

func (r *Registry) Lookup(id string) (*Definition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, id, "unknown board")
	}
	return d, nil
}

// IDs returns the sorted board ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Board resolves id and variant into a Board. An empty variant selects the
// default one.
func (r *Registry) Board(id, variant string) (*Board, error) {
	d, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	v, err := d.variant(variant)
	if err != nil {
		return nil, err
	}
	pins, err := d.table(variant)
	if err != nil {
		return nil, err
	}
	tc, err := r.set.Toolchain(d.Toolchain)
	if err != nil {
		return nil, err
	}
	prog, err := r.set.Programmer(d.Programmer.Name, d.Programmer.ProgrammerOptions)
	if err != nil {
		return nil, err
	}

	b := &Board{
		ID:          d.ID,
		Vendor:      d.Vendor,
		Description: d.Description,
		Device:      d.Device,
		Clock:       d.Clock,
		PLL:         d.PLL,
		Pins:        pins,
		Toolchain:   tc,
		Programmer:  prog,
		Platform: toolchain.Platform{
			Name:              d.ID,
			Device:            d.Device,
			Family:            d.Family,
			Commands:          slices.Clone(d.Commands),
			BitstreamCommands: slices.Clone(d.BitstreamCommands),
		},
	}
	if v != nil {
		b.Variant = v.Name
	}
	if d.Flash != nil {
		b.Platform.FlashInterface = d.Flash.Interface
		b.Platform.FlashSizeMB = d.Flash.SizeMB
	}
	return b, nil
}
