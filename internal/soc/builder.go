// Package soc composes a system-on-chip from a board pin map, a clocking
// plan and a list of peripheral descriptors. Composition runs as a fixed
// sequence of stages; the first failing stage aborts the build.
package soc

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/sdram"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

const tracerName = "github.com/appkins-org/go-socbuild/internal/soc"

// KindCore marks instances the builder adds itself.
const KindCore Kind = "core"

// Stage is a build pipeline state.
type Stage int

const (
	Configured Stage = iota
	PinsResolved
	ClocksGenerated
	PeripheralsAttached
	AddressesAssigned
	SettingsEmitted
	Loaded
	Flashed
	Failed
)

var stageNames = [...]string{
	Configured:          "Configured",
	PinsResolved:        "PinsResolved",
	ClocksGenerated:     "ClocksGenerated",
	PeripheralsAttached: "PeripheralsAttached",
	AddressesAssigned:   "AddressesAssigned",
	SettingsEmitted:     "SettingsEmitted",
	Loaded:              "Loaded",
	Flashed:             "Flashed",
	Failed:              "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}

// UART selects the console. Name is "serial" (board pads), "crossover"
// (no pads) or empty for none.
type UART struct {
	Name     string `json:"name"`
	Pads     string `json:"pads,omitempty"`
	Index    int    `json:"index"`
	Baudrate int    `json:"baudrate"`
}

// Config is everything needed to compose a SoC.
type Config struct {
	Name   string
	Ident  string
	Board  string
	Device string
	Pins   *pinmap.Table

	SysClkFreq int64
	CPU        string
	CPUVariant string
	CPUConfig  map[string]string

	IntegratedROMSize     uint64
	IntegratedSRAMSize    uint64
	IntegratedMainRAMSize uint64

	UART UART
	// MemMap overrides the CPU memory map and places named slaves.
	MemMap      map[string]uint64
	Clocking    clock.Spec
	Peripherals []Descriptor
	// Regions are additional fixed regions, e.g. PS memory windows.
	Regions   []Region
	Constants []Constant
	Commands  []string
}

// Design is a fully composed SoC.
type Design struct {
	Name       string            `json:"name"`
	Ident      string            `json:"ident"`
	Board      string            `json:"board"`
	Device     string            `json:"device"`
	CPU        string            `json:"cpu"`
	CPUVariant string            `json:"cpu_variant,omitempty"`
	CPUConfig  map[string]string `json:"cpu_config,omitempty"`
	SysClkFreq int64             `json:"sys_clk_freq"`

	Signals    []*pinmap.Signal          `json:"signals"`
	Clocks     *clock.Plan               `json:"clocks"`
	Instances  []*Instance               `json:"instances"`
	Regions    []Region                  `json:"regions"`
	IORegions  []Region                  `json:"io_regions"`
	Masters    []Master                  `json:"masters,omitempty"`
	IRQs       []IRQ                     `json:"irqs,omitempty"`
	CSRs       []CSRBank                 `json:"csrs"`
	Constants  []Constant                `json:"constants"`
	Periods    []clock.Period            `json:"periods,omitempty"`
	FalsePaths []clock.FalsePath         `json:"false_paths,omitempty"`
	Commands   []string                  `json:"commands,omitempty"`
	SDRAM      *sdram.ControllerSettings `json:"sdram,omitempty"`
}

// Region returns the named region.
func (d *Design) Region(name string) (Region, bool) {
	for _, r := range d.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Constant returns the named constant.
func (d *Design) Constant(name string) (string, bool) {
	for _, c := range d.Constants {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Instance returns the named instance.
func (d *Design) Instance(name string) (*Instance, bool) {
	for _, i := range d.Instances {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

// StageObserver is notified after every stage.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

type Option func(*Builder)

func WithObserver(o StageObserver) Option { return func(b *Builder) { b.observer = o } }

func WithTracer(t trace.Tracer) Option { return func(b *Builder) { b.tracer = t } }

// Builder runs the composition stages for one Config. A Builder is single
// use.
type Builder struct {
	cfg      Config
	catalog  Catalog
	log      logr.Logger
	tracer   trace.Tracer
	observer StageObserver
	stage    Stage

	cpu       CPU
	memMap    map[string]uint64
	ordered   []Descriptor
	resolver  *pinmap.Resolver
	uartPads  []*pinmap.Signal
	pads      map[string][]*pinmap.Signal
	plan      *clock.Plan
	instances []*Instance
	design    *Design
}

func NewBuilder(cfg Config, catalog Catalog, log logr.Logger, opts ...Option) *Builder {
	b := &Builder{
		cfg:     cfg,
		catalog: catalog,
		log:     log.WithValues("soc", cfg.Name),
		tracer:  otel.Tracer(tracerName),
		pads:    map[string][]*pinmap.Signal{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Stage returns the last stage reached.
func (b *Builder) Stage() Stage { return b.stage }

// Compose runs every stage up to AddressesAssigned.
func (b *Builder) Compose(ctx context.Context) (*Design, error) {
	if b.stage != Configured || b.design != nil {
		return nil, socerr.New(socerr.InvalidOption, b.cfg.Name, "builder already used")
	}
	ctx, span := b.tracer.Start(ctx, "soc.Compose", trace.WithAttributes(
		attribute.String("soc.name", b.cfg.Name),
		attribute.String("soc.board", b.cfg.Board),
	))
	defer span.End()

	if err := b.configure(); err != nil {
		return nil, b.fail(span, Configured, err)
	}
	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{PinsResolved, b.resolvePins},
		{ClocksGenerated, b.generateClocks},
		{PeripheralsAttached, b.attach},
		{AddressesAssigned, b.assignAddresses},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, b.fail(span, s.stage, err)
		}
		if err := b.run(ctx, s.stage, s.fn); err != nil {
			return nil, b.fail(span, s.stage, err)
		}
	}
	return b.design, nil
}

// Design returns the composed design, nil before Compose succeeded.
func (b *Builder) Design() *Design { return b.design }

// follows lists the stages each post-composition stage may follow.
var follows = map[Stage][]Stage{
	SettingsEmitted: {AddressesAssigned},
	Loaded:          {SettingsEmitted},
	Flashed:         {SettingsEmitted, Loaded},
}

// Advance runs fn as stage. Settings are emitted only once addresses are
// assigned and programming only after settings; a failing fn moves the
// builder to Failed.
func (b *Builder) Advance(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	prev, ok := follows[stage]
	if !ok || !slices.Contains(prev, b.stage) {
		return socerr.New(socerr.InvalidOption, b.cfg.Name, "stage %s cannot follow %s", stage, b.stage)
	}
	ctx, span := b.tracer.Start(ctx, "soc.Advance", trace.WithAttributes(
		attribute.String("soc.name", b.cfg.Name),
		attribute.String("soc.stage", stage.String()),
	))
	defer span.End()
	if err := ctx.Err(); err != nil {
		return b.fail(span, stage, err)
	}
	if err := b.run(ctx, stage, fn); err != nil {
		return b.fail(span, stage, err)
	}
	return nil
}

func (b *Builder) run(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, "soc."+stage.String())
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if b.observer != nil {
		b.observer.ObserveStage(stage.String(), elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	b.stage = stage
	b.log.V(1).Info("stage complete", "stage", stage.String(), "duration", elapsed)
	return nil
}

func (b *Builder) fail(span trace.Span, stage Stage, err error) error {
	b.stage = Failed
	err = socerr.WithStage(err, stage.String())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	b.log.Error(err, "build failed", "stage", stage.String())
	return err
}

func (b *Builder) configure() error {
	cpu, err := LookupCPU(b.cfg.CPU)
	if err != nil {
		return err
	}
	b.cpu = cpu
	if b.cfg.Pins == nil {
		return socerr.New(socerr.ResourceNotFound, b.cfg.Board, "board has no pin map")
	}
	if b.cfg.SysClkFreq <= 0 {
		return socerr.New(socerr.ClockConfigError, clock.SysDomain, "invalid sys clock frequency %d", b.cfg.SysClkFreq)
	}

	b.memMap = map[string]uint64{}
	for k, v := range cpu.MemMap {
		b.memMap[k] = v
	}
	for k, v := range b.cfg.MemMap {
		b.memMap[k] = v
	}
	if _, ok := b.memMap["csr"]; !ok {
		return socerr.New(socerr.ResourceNotFound, "csr", "memory map has no CSR region")
	}

	seen := map[string]bool{}
	for _, d := range b.cfg.Peripherals {
		if !d.Enabled {
			continue
		}
		if seen[d.Name] {
			return socerr.New(socerr.InvalidOption, d.Name, "peripheral declared twice")
		}
		seen[d.Name] = true
		if _, err := b.catalog.Lookup(d); err != nil {
			return err
		}
		b.ordered = append(b.ordered, d)
	}
	slices.SortStableFunc(b.ordered, func(x, y Descriptor) int {
		return x.Kind.Rank() - y.Kind.Rank()
	})
	return nil
}

func (b *Builder) resolvePins(context.Context) error {
	r := pinmap.NewResolver(b.cfg.Pins)
	b.resolver = r

	if u := b.cfg.UART; u.Name == "serial" {
		name := u.Pads
		if name == "" {
			name = "serial"
		}
		sig, err := r.Request(name, u.Index)
		if err != nil {
			return err
		}
		b.uartPads = []*pinmap.Signal{sig}
	}

	for _, s := range b.cfg.Clocking.Sources {
		if s.Pin == "" {
			continue
		}
		if sig, _ := r.LookupRequest(s.Pin, s.Index, true); sig != nil {
			continue
		}
		if _, err := r.Request(s.Pin, s.Index); err != nil {
			return err
		}
	}

	for _, d := range b.ordered {
		f, _ := b.catalog.Lookup(d)
		for _, req := range f.Pads(d) {
			if req.All {
				sigs, err := r.RequestAll(req.Name)
				if err != nil {
					return err
				}
				b.pads[d.Name] = append(b.pads[d.Name], sigs...)
				continue
			}
			sig, err := r.Request(req.Name, req.Index)
			if err != nil {
				return err
			}
			if len(req.Lanes) > 0 {
				if sig, err = r.Reduce(sig.Name, sig.Index, req.Lanes); err != nil {
					return err
				}
			}
			b.pads[d.Name] = append(b.pads[d.Name], sig)
		}
		b.log.V(1).Info("pads requested", "peripheral", d.Name, "pads", padNames(b.pads[d.Name]))
	}
	return nil
}

func (b *Builder) generateClocks(context.Context) error {
	plan, err := clock.Generate(b.cfg.Clocking, b.resolver)
	if err != nil {
		return err
	}
	for _, p := range plan.PLLs {
		b.log.V(1).Info("pll configured", "pll", p.Name, "family", p.Family,
			"divider", p.Divider, "mult", p.Mult, "vco", p.VCO.String())
	}
	b.plan = plan
	return nil
}

func (b *Builder) coreInstances() []*Instance {
	out := []*Instance{{Name: "ctrl", Kind: KindCore, Core: "ctrl", CSRs: []string{"ctrl"}}}
	if b.cpu.Name != CPUNone {
		out = append(out, &Instance{Name: "cpu", Kind: KindCore, Core: b.cpu.Name, Masters: masters(b.cpu.Masters)})
	}
	mem := func(name string, size uint64) {
		if size == 0 {
			return
		}
		out = append(out, &Instance{
			Name:   name,
			Kind:   KindCore,
			Core:   name,
			Slaves: []Slave{{Name: name, Origin: origin(b.memMap[name]), Size: size, Cached: true}},
		})
	}
	mem("rom", b.cfg.IntegratedROMSize)
	mem("sram", b.cfg.IntegratedSRAMSize)
	mem("main_ram", b.cfg.IntegratedMainRAMSize)

	out = append(out, &Instance{Name: "identifier", Kind: KindCore, Core: "identifier", CSRs: []string{"identifier_mem"}})

	if u := b.cfg.UART; u.Name != "" {
		uart := &Instance{Name: "uart", Kind: KindCore, Core: "uart_" + u.Name, Pads: padNames(b.uartPads), CSRs: []string{"uart"}}
		if u.Name == "crossover" {
			uart.CSRs = append(uart.CSRs, "uart_xover")
		}
		uart.IRQ = &IRQRequest{Name: "uart", Line: -1}
		out = append(out, uart)
	}
	if b.cpu.Name != CPUNone {
		out = append(out, &Instance{
			Name: "timer0", Kind: KindCore, Core: "timer",
			CSRs: []string{"timer0"},
			IRQ:  &IRQRequest{Name: "timer0", Line: -1},
		})
	}
	return out
}

func masters(names []string) []Master {
	out := make([]Master, 0, len(names))
	for _, n := range names {
		out = append(out, Master{Name: n})
	}
	return out
}

func (b *Builder) attach(context.Context) error {
	b.instances = b.coreInstances()
	env := Env{Config: &b.cfg, Clocks: b.plan, MemMap: b.memMap}
	for _, d := range b.ordered {
		f, _ := b.catalog.Lookup(d)
		env.Log = b.log.WithValues("peripheral", d.Name)
		insts, err := f.Instantiate(env, d, b.pads[d.Name])
		if err != nil {
			return err
		}
		for _, i := range insts {
			if _, dup := b.instance(i.Name); dup {
				return socerr.New(socerr.ResourceInUse, i.Name, "instance name already used")
			}
			b.instances = append(b.instances, i)
		}
		b.log.Info("peripheral attached", "peripheral", d.Name, "kind", string(d.Kind), "core", d.Params.Core())
	}
	return nil
}

func (b *Builder) instance(name string) (*Instance, bool) {
	for _, i := range b.instances {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

func (b *Builder) assignAddresses(context.Context) error {
	bus := NewBus(32, b.cpu.IORegions)

	for _, r := range b.cfg.Regions {
		if err := bus.AddRegion(r); err != nil {
			return err
		}
	}
	// fixed origins first so allocation never takes an address a later
	// fixed slave needs
	for _, inst := range b.instances {
		for _, s := range inst.Slaves {
			if s.Origin == nil {
				continue
			}
			r := Region{Name: s.Name, Origin: *s.Origin, Size: s.Size, Cached: s.Cached, Linker: s.Linker, Owner: inst.Name}
			if err := bus.AddRegion(r); err != nil {
				return err
			}
		}
	}
	csrBase := b.memMap["csr"]
	if err := bus.AddRegion(Region{Name: "csr", Origin: csrBase, Size: DefaultCSRSize, Owner: "ctrl"}); err != nil {
		return err
	}
	for _, inst := range b.instances {
		for _, s := range inst.Slaves {
			if s.Origin != nil {
				continue
			}
			r, err := bus.AllocRegion(s.Name, s.Size, s.Cached, inst.Name)
			if err != nil {
				return err
			}
			b.log.V(1).Info("region allocated", "region", r.String())
		}
	}

	mainRAM, hasMainRAM := bus.Region("main_ram")
	var allMasters []Master
	for _, inst := range b.instances {
		for _, m := range inst.Masters {
			if m.DMA && !hasMainRAM {
				return socerr.New(socerr.ResourceNotFound, inst.Name, "DMA master %s needs main_ram", m.Name)
			}
			allMasters = append(allMasters, m)
		}
		for _, buf := range inst.Buffers {
			if !hasMainRAM || !mainRAM.Contains(buf) {
				return socerr.New(socerr.AddressConflictError, inst.Name, "buffer %s outside main_ram", buf)
			}
		}
	}

	irqs := NewIRQMap(b.cpu.NIRQs)
	for _, inst := range b.instances {
		if inst.IRQ == nil {
			continue
		}
		if b.cpu.NIRQs == 0 {
			b.log.Info("cpu has no interrupts, skipped", "irq", inst.IRQ.Name)
			continue
		}
		if _, err := irqs.Add(inst.IRQ.Name, inst.IRQ.Line); err != nil {
			return err
		}
	}

	csrs := NewCSRMap(csrBase)
	for _, inst := range b.instances {
		for _, name := range inst.CSRs {
			if _, err := csrs.Add(name); err != nil {
				return err
			}
		}
	}

	constants, err := b.constants()
	if err != nil {
		return err
	}

	d := &Design{
		Name:       b.cfg.Name,
		Ident:      b.cfg.Ident,
		Board:      b.cfg.Board,
		Device:     b.cfg.Device,
		CPU:        b.cpu.Name,
		CPUVariant: b.cfg.CPUVariant,
		CPUConfig:  b.cfg.CPUConfig,
		SysClkFreq: b.cfg.SysClkFreq,
		Signals:    b.resolver.Requested(),
		Clocks:     b.plan,
		Instances:  b.instances,
		Regions:    bus.Regions(),
		IORegions:  bus.IORegions(),
		Masters:    allMasters,
		IRQs:       irqs.IRQs(),
		CSRs:       csrs.Banks(),
		Constants:  constants,
		Commands:   append([]string(nil), b.cfg.Commands...),
	}
	for _, inst := range b.instances {
		d.Periods = append(d.Periods, inst.Periods...)
		d.FalsePaths = append(d.FalsePaths, inst.FalsePaths...)
		d.Commands = append(d.Commands, inst.Commands...)
		if inst.SDRAM != nil {
			d.SDRAM = inst.SDRAM
		}
	}
	b.design = d
	b.log.Info("addresses assigned", "regions", len(d.Regions), "irqs", len(d.IRQs), "csrs", len(d.CSRs))
	return nil
}

func (b *Builder) constants() ([]Constant, error) {
	var out []Constant
	seen := map[string]bool{}
	for _, c := range b.cfg.Constants {
		seen[c.Name] = true
		out = append(out, c)
	}
	if !seen["CONFIG_CLOCK_FREQUENCY"] {
		seen["CONFIG_CLOCK_FREQUENCY"] = true
		out = append(out, Constant{"CONFIG_CLOCK_FREQUENCY", strconv.FormatInt(b.cfg.SysClkFreq, 10)})
	}
	for _, inst := range b.instances {
		for _, c := range inst.Constants {
			if seen[c.Name] {
				return nil, socerr.New(socerr.ResourceInUse, inst.Name, "constant %s already defined", c.Name)
			}
			seen[c.Name] = true
			out = append(out, c)
		}
	}
	return out, nil
}
