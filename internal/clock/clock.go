// Package clock derives the clock domains of an SoC from its reference
// oscillators.
package clock

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// SysDomain is the domain every SoC must provide.
const SysDomain = "sys"

type Primitive string

const (
	// Direct connects the domain to its source without division.
	Direct Primitive = "DIRECT"
	// CLKDIV is the Gowin high-speed clock divider.
	CLKDIV Primitive = "CLKDIV"
	// BUFGCEDiv is the UltraScale global buffer divider.
	BUFGCEDiv Primitive = "BUFGCE_DIV"
)

var primitiveDivides = map[Primitive][]decimal.Decimal{
	Direct:    {decimal.NewFromInt(1)},
	CLKDIV:    {decimal.NewFromInt(2), decimal.RequireFromString("3.5"), decimal.NewFromInt(4), decimal.NewFromInt(5)},
	BUFGCEDiv: {decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(4), decimal.NewFromInt(5), decimal.NewFromInt(6), decimal.NewFromInt(7), decimal.NewFromInt(8)},
}

// Source is a reference clock. Pin names the pin map signal carrying it;
// internal sources such as a processing-system clock have no pin.
type Source struct {
	Name  string `json:"name"`
	Pin   string `json:"pin,omitempty"`
	Index int    `json:"index"`
	Freq  int64  `json:"freq"`
}

// Output is a requested PLL output.
type Output struct {
	Domain    string  `json:"domain"`
	Freq      int64   `json:"freq"`
	Phase     float64 `json:"phase,omitempty"`
	ResetLess bool    `json:"reset_less,omitempty"`
	MarginPPM int64   `json:"margin_ppm,omitempty"`
}

func (o Output) margin() int64 {
	if o.MarginPPM > 0 {
		return o.MarginPPM
	}
	return DefaultMarginPPM
}

func (o Output) config(d int, freq Rational) OutputConfig {
	return OutputConfig{
		Domain:    o.Domain,
		Divide:    d,
		Freq:      freq,
		Requested: o.Freq,
		Phase:     o.Phase,
		ResetLess: o.ResetLess,
	}
}

// PLLSpec requests one PLL fed by Source. FalsePathFrom lists domains whose
// paths to the PLL input are declared asynchronous.
type PLLSpec struct {
	Name          string   `json:"name"`
	Family        string   `json:"family"`
	SpeedGrade    int      `json:"speedgrade"`
	Source        string   `json:"source"`
	Outputs       []Output `json:"outputs"`
	FalsePathFrom []string `json:"false_path_from,omitempty"`
}

// Derived is a domain produced from another domain or a source by a fixed
// divider primitive.
type Derived struct {
	Domain    string          `json:"domain"`
	From      string          `json:"from"`
	Primitive Primitive       `json:"primitive"`
	Divide    decimal.Decimal `json:"divide"`
	ResetLess bool            `json:"reset_less,omitempty"`
}

// Spec is the clocking request of a target.
type Spec struct {
	Sources []Source  `json:"sources"`
	PLLs    []PLLSpec `json:"plls,omitempty"`
	Derived []Derived `json:"derived,omitempty"`
	// IODelay names the domain clocking the IO delay calibration block.
	IODelay string `json:"iodelay,omitempty"`
}

type ResetPolicy string

const (
	Resettable ResetPolicy = "resettable"
	ResetLess  ResetPolicy = "reset_less"
)

// Domain is a generated clock domain.
type Domain struct {
	Name   string      `json:"name"`
	Freq   Rational    `json:"freq"`
	Phase  float64     `json:"phase,omitempty"`
	Reset  ResetPolicy `json:"reset"`
	Source string      `json:"source"`
}

// FalsePath declares the paths between two clock nets asynchronous.
type FalsePath struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Period is a timing constraint on a clock input port.
type Period struct {
	Port     string          `json:"port"`
	Signal   string          `json:"signal"`
	Freq     int64           `json:"freq"`
	PeriodNS decimal.Decimal `json:"period_ns"`
}

// Plan is the resolved clocking of an SoC.
type Plan struct {
	PLLs       []PLLConfig `json:"plls,omitempty"`
	Domains    []Domain    `json:"domains"`
	FalsePaths []FalsePath `json:"false_paths,omitempty"`
	Periods    []Period    `json:"periods,omitempty"`
	IODelay    string      `json:"iodelay,omitempty"`
}

// Domain returns the named domain.
func (p *Plan) Domain(name string) (Domain, bool) {
	for _, d := range p.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// HasDomain reports whether the plan provides the named domain.
func (p *Plan) HasDomain(name string) bool {
	_, ok := p.Domain(name)
	return ok
}

// PinLookup gives access to already requested pins.
type PinLookup interface {
	LookupRequest(name string, index int, loose bool) (*pinmap.Signal, error)
}

// Generate resolves spec into a Plan. Period constraints are emitted for
// every source whose pin was requested.
func Generate(spec Spec, pins PinLookup) (*Plan, error) {
	plan := &Plan{IODelay: spec.IODelay}
	sources := map[string]Source{}
	// freq of every referencable clock: sources and domains
	freqs := map[string]Rational{}

	for _, s := range spec.Sources {
		if _, dup := sources[s.Name]; dup {
			return nil, socerr.New(socerr.ClockConfigError, s.Name, "duplicate clock source")
		}
		if s.Freq <= 0 {
			return nil, socerr.New(socerr.ClockConfigError, s.Name, "invalid source frequency %d", s.Freq)
		}
		sources[s.Name] = s
		freqs[s.Name] = Hz(s.Freq)
		if s.Pin == "" || pins == nil {
			continue
		}
		sig, err := pins.LookupRequest(s.Pin, s.Index, true)
		if err != nil {
			return nil, err
		}
		if sig == nil {
			continue
		}
		ports := sig.Ports()
		if len(ports) == 0 {
			continue
		}
		plan.Periods = append(plan.Periods, Period{
			Port:     ports[0].Name,
			Signal:   sig.BaseName(),
			Freq:     s.Freq,
			PeriodNS: Hz(s.Freq).Period(),
		})
	}

	addDomain := func(d Domain) error {
		if _, dup := freqs[d.Name]; dup {
			return socerr.New(socerr.ClockConfigError, d.Name, "clock domain defined twice")
		}
		freqs[d.Name] = d.Freq
		plan.Domains = append(plan.Domains, d)
		return nil
	}

	for _, ps := range spec.PLLs {
		fam, ok := LookupFamily(ps.Family)
		if !ok {
			return nil, socerr.New(socerr.ClockConfigError, ps.Name, "unknown PLL family %q", ps.Family)
		}
		src, ok := sources[ps.Source]
		if !ok {
			return nil, socerr.New(socerr.ClockConfigError, ps.Name, "unknown clock source %q", ps.Source)
		}
		cfg, err := fam.Compute(ps.Name, src.Freq, ps.SpeedGrade, ps.Outputs)
		if err != nil {
			return nil, err
		}
		cfg.Source = src.Name
		plan.PLLs = append(plan.PLLs, cfg)
		for _, o := range cfg.Outputs {
			if err := addDomain(Domain{
				Name:   o.Domain,
				Freq:   o.Freq,
				Phase:  o.Phase,
				Reset:  policy(o.ResetLess),
				Source: cfg.Name,
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, d := range spec.Derived {
		from, ok := freqs[d.From]
		if !ok {
			return nil, socerr.New(socerr.ClockConfigError, d.Domain, "unknown clock %q", d.From)
		}
		freq, err := divide(d, from)
		if err != nil {
			return nil, err
		}
		if err := addDomain(Domain{
			Name:   d.Domain,
			Freq:   freq,
			Reset:  policy(d.ResetLess),
			Source: d.From,
		}); err != nil {
			return nil, err
		}
	}

	if !plan.HasDomain(SysDomain) {
		return nil, socerr.New(socerr.ClockConfigError, SysDomain, "no sys clock domain generated")
	}
	if spec.IODelay != "" && !plan.HasDomain(spec.IODelay) {
		return nil, socerr.New(socerr.ClockConfigError, spec.IODelay, "IO delay reference domain not generated")
	}

	for _, ps := range spec.PLLs {
		for _, from := range ps.FalsePathFrom {
			if !plan.HasDomain(from) {
				return nil, socerr.New(socerr.ClockConfigError, from, "false path from unknown domain")
			}
			plan.FalsePaths = append(plan.FalsePaths, FalsePath{
				From: from + "_clk",
				To:   ps.Name + "_clkin",
			})
		}
	}
	return plan, nil
}

func divide(d Derived, from Rational) (Rational, error) {
	div := d.Divide
	if div.IsZero() {
		div = decimal.NewFromInt(1)
	}
	allowed, ok := primitiveDivides[d.Primitive]
	if !ok {
		return Rational{}, socerr.New(socerr.ClockConfigError, d.Domain, "unknown clock primitive %q", d.Primitive)
	}
	valid := false
	for _, a := range allowed {
		if a.Equal(div) {
			valid = true
			break
		}
	}
	if !valid {
		return Rational{}, socerr.New(socerr.ClockConfigError, d.Domain, "%s cannot divide by %s", d.Primitive, div)
	}
	halves := div.Mul(decimal.NewFromInt(2)).IntPart()
	return NewRational(from.Num*2, from.Den*halves), nil
}

func policy(resetLess bool) ResetPolicy {
	if resetLess {
		return ResetLess
	}
	return Resettable
}

func (d Domain) String() string {
	return fmt.Sprintf("%s@%s", d.Name, d.Freq)
}
