package soc

import (
	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/sdram"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// PadRequest asks the resolver for a signal. All takes every instance of
// Name; Lanes reduces a DDR signal after it is requested.
type PadRequest struct {
	Name  string
	Index int
	All   bool
	Lanes []int
}

// Slave is a bus window requested by an instance. A nil Origin asks the bus
// to allocate one.
type Slave struct {
	Name   string  `json:"name"`
	Origin *uint64 `json:"origin,omitempty"`
	Size   uint64  `json:"size"`
	Cached bool    `json:"cached"`
	Linker bool    `json:"linker,omitempty"`
}

// Master is a bus master. DMA masters target main memory.
type Master struct {
	Name string `json:"name"`
	DMA  bool   `json:"dma,omitempty"`
}

// IRQRequest asks for an interrupt line; Line < 0 takes any free one.
type IRQRequest struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// Constant is a named value exported to software headers.
type Constant struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Instance is an attached peripheral or SoC core block. Buffers are DMA
// windows that must lie inside main memory.
type Instance struct {
	Name        string                    `json:"name"`
	Kind        Kind                      `json:"kind"`
	Core        string                    `json:"core"`
	Params      Params                    `json:"params,omitempty"`
	Pads        []string                  `json:"pads,omitempty"`
	ClockDomain string                    `json:"clock_domain,omitempty"`
	Slaves      []Slave                   `json:"slaves,omitempty"`
	Masters     []Master                  `json:"masters,omitempty"`
	Buffers     []Region                  `json:"buffers,omitempty"`
	IRQ         *IRQRequest               `json:"irq,omitempty"`
	CSRs        []string                  `json:"csrs,omitempty"`
	Constants   []Constant                `json:"constants,omitempty"`
	Periods     []clock.Period            `json:"periods,omitempty"`
	FalsePaths  []clock.FalsePath         `json:"false_paths,omitempty"`
	Commands    []string                  `json:"commands,omitempty"`
	SDRAM       *sdram.ControllerSettings `json:"-"`
}

// Env is what a factory may consult while instantiating.
type Env struct {
	Config *Config
	Clocks *clock.Plan
	Log    logr.Logger
	// MemMap merges the CPU memory map with configured overrides.
	MemMap map[string]uint64
}

// RequireDomain fails with ClockConfigError when domain was not generated.
func (e Env) RequireDomain(owner, domain string) error {
	if e.Clocks == nil || !e.Clocks.HasDomain(domain) {
		return socerr.New(socerr.ClockConfigError, owner, "requires clock domain %q", domain)
	}
	return nil
}

// Factory turns a descriptor into instances.
type Factory interface {
	Pads(d Descriptor) []PadRequest
	Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error)
}

// Catalog maps a params core name to its factory.
type Catalog map[string]Factory

// Lookup returns the factory for d.
func (c Catalog) Lookup(d Descriptor) (Factory, error) {
	if d.Params == nil {
		return nil, socerr.New(socerr.InvalidOption, d.Name, "descriptor has no parameters")
	}
	f, ok := c[d.Params.Core()]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, d.Name, "no factory for core %q", d.Params.Core())
	}
	return f, nil
}

func origin(v uint64) *uint64 { return &v }

func padNames(pads []*pinmap.Signal) []string {
	out := make([]string, 0, len(pads))
	for _, p := range pads {
		out = append(out, p.String())
	}
	return out
}
