// Package toolchain renders vendor constraint files and build scripts for a
// composed design, runs the vendor tools and drives the board programmers.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Mode selects the bitstream flavour.
type Mode int

const (
	// SRAM is the volatile configuration image used by Load.
	SRAM Mode = iota
	// Flash is the image written to configuration flash.
	Flash
)

// File is a generated build input, relative to the build directory.
type File struct {
	Name string
	Data []byte
}

// Platform is the board level information a toolchain needs.
type Platform struct {
	Name              string
	Device            string
	Family            string
	Commands          []string
	BitstreamCommands []string
	// FlashInterface and FlashSizeMB describe the configuration flash,
	// e.g. "spix4" and 16.
	FlashInterface string
	FlashSizeMB    int
}

// Toolchain is a vendor implementation flow.
type Toolchain interface {
	Name() string
	Files(d *soc.Design, p Platform) ([]File, error)
	Build(ctx context.Context, dir, buildName string) error
	Bitstream(dir, buildName string, mode Mode) string
}

// Programmer writes an artifact to a board. Neither operation is retried.
type Programmer interface {
	Load(ctx context.Context, path string) error
	Flash(ctx context.Context, offset uint64, path string) error
}

// Tools names the vendor executables.
type Tools struct {
	Vivado         string `mapstructure:"vivado" yaml:"vivado"`
	GWSh           string `mapstructure:"gw_sh" yaml:"gw_sh"`
	OpenFPGALoader string `mapstructure:"openfpgaloader" yaml:"openfpgaloader"`
}

func (t Tools) withDefaults() Tools {
	if t.Vivado == "" {
		t.Vivado = "vivado"
	}
	if t.GWSh == "" {
		t.GWSh = "gw_sh"
	}
	if t.OpenFPGALoader == "" {
		t.OpenFPGALoader = "openFPGALoader"
	}
	return t
}

// ProgrammerOptions are the per-board programmer settings.
type ProgrammerOptions struct {
	// Board is the openFPGALoader board name.
	Board string `json:"board,omitempty"`
	// FlashPart is the Vivado configuration memory part.
	FlashPart     string `json:"flash_part,omitempty"`
	ExternalFlash bool   `json:"external_flash,omitempty"`
}

// Set hands out toolchains and programmers sharing one Runner.
type Set struct {
	runner Runner
	tools  Tools
	log    logr.Logger
}

func NewSet(r Runner, tools Tools, log logr.Logger) *Set {
	return &Set{runner: r, tools: tools.withDefaults(), log: log}
}

var toolchainNames = []string{"gowin", "vivado"}

// Toolchain returns the named toolchain.
func (s *Set) Toolchain(name string) (Toolchain, error) {
	switch name {
	case "vivado":
		return &Vivado{Runner: s.runner, Binary: s.tools.Vivado}, nil
	case "gowin":
		return &Gowin{Runner: s.runner, Binary: s.tools.GWSh}, nil
	default:
		return nil, socerr.New(socerr.ResourceNotFound, name, "unknown toolchain, want one of %v", toolchainNames)
	}
}

// Programmer returns the named programmer.
func (s *Set) Programmer(name string, opts ProgrammerOptions) (Programmer, error) {
	switch name {
	case "vivado":
		return &VivadoProgrammer{Runner: s.runner, Binary: s.tools.Vivado, FlashPart: opts.FlashPart, Log: s.log}, nil
	case "openfpgaloader":
		if opts.Board == "" {
			return nil, socerr.New(socerr.InvalidOption, name, "openFPGALoader needs a board name")
		}
		return &OpenFPGALoader{
			Runner:        s.runner,
			Binary:        s.tools.OpenFPGALoader,
			Board:         opts.Board,
			ExternalFlash: opts.ExternalFlash,
			Log:           s.log,
		}, nil
	default:
		return nil, socerr.New(socerr.ResourceNotFound, name, "unknown programmer")
	}
}

// portGroup is the constraint view of one requested signal.
type portGroup struct {
	Signal string
	Ports  []portLine
}

type portLine struct {
	Name       string
	Pin        string
	IOStandard string
	Misc       []kv
}

type kv struct{ Key, Value string }

func splitMisc(misc []string) []kv {
	out := make([]kv, 0, len(misc))
	for _, m := range misc {
		k, v, ok := strings.Cut(m, "=")
		if !ok {
			v = "TRUE"
		}
		out = append(out, kv{k, v})
	}
	return out
}

func portGroups(d *soc.Design) []portGroup {
	groups := make([]portGroup, 0, len(d.Signals))
	for _, sig := range d.Signals {
		g := portGroup{Signal: sig.String()}
		for _, p := range sig.Ports() {
			g.Ports = append(g.Ports, portLine{Name: p.Name, Pin: p.Pin, IOStandard: p.IOStandard, Misc: splitMisc(p.Misc)})
		}
		groups = append(groups, g)
	}
	return groups
}

type clockLine struct {
	Name   string
	Port   string
	Period string
}

func clockLines(d *soc.Design) []clockLine {
	var out []clockLine
	if d.Clocks != nil {
		for _, p := range d.Clocks.Periods {
			out = append(out, clockLine{Name: p.Signal, Port: p.Port, Period: p.PeriodNS.String()})
		}
	}
	for _, p := range d.Periods {
		out = append(out, clockLine{Name: p.Signal, Port: p.Port, Period: p.PeriodNS.String()})
	}
	return out
}

type falsePathLine struct{ From, To string }

func falsePaths(d *soc.Design) []falsePathLine {
	var out []falsePathLine
	if d.Clocks != nil {
		for _, fp := range d.Clocks.FalsePaths {
			out = append(out, falsePathLine{fp.From, fp.To})
		}
	}
	for _, fp := range d.FalsePaths {
		out = append(out, falsePathLine{fp.From, fp.To})
	}
	return out
}

func buildName(d *soc.Design) (string, error) {
	if d == nil || d.Name == "" {
		return "", fmt.Errorf("design has no name")
	}
	return d.Name, nil
}

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}
