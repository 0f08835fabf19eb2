// Package targets turns a board and the command line options of a target
// into a SoC configuration. Each target fixes the board it runs on, the
// flags it exposes and the peripherals it attaches.
package targets

import (
	"sort"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// PlanFunc builds the SoC configuration of a target on b.
type PlanFunc func(b *boards.Board, o *Options) (soc.Config, error)

// Target is a buildable SoC recipe.
type Target struct {
	Name        string
	Board       string
	Description string
	Features    Feature
	Defaults    Options
	Plan        PlanFunc
}

// BoardID returns the board the target builds for. Targets without a fixed
// board take it from --board.
func (t *Target) BoardID(o *Options) (string, error) {
	if t.Board != "" {
		return t.Board, nil
	}
	if o.Board == "" {
		return "", socerr.New(socerr.InvalidOption, t.Name, "--board is required")
	}
	return o.Board, nil
}

// Configure validates o, resolves the board and runs the plan. Option
// conflicts are reported before any pin is requested.
func (t *Target) Configure(reg *boards.Registry, o *Options) (*boards.Board, soc.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, soc.Config{}, err
	}
	id, err := t.BoardID(o)
	if err != nil {
		return nil, soc.Config{}, err
	}
	b, err := reg.Board(id, o.Variant)
	if err != nil {
		return nil, soc.Config{}, err
	}
	cfg, err := t.Plan(b, o)
	if err != nil {
		return nil, soc.Config{}, err
	}
	return b, cfg, nil
}

// Registry holds the known targets.
type Registry struct {
	targets map[string]*Target
}

func NewRegistry(ts ...*Target) (*Registry, error) {
	r := &Registry{targets: make(map[string]*Target, len(ts))}
	for _, t := range ts {
		if _, ok := r.targets[t.Name]; ok {
			return nil, socerr.New(socerr.ResourceInUse, t.Name, "target defined twice")
		}
		r.targets[t.Name] = t
	}
	return r, nil
}

// Default returns the built-in targets.
func Default() *Registry {
	r, err := NewRegistry(
		antmicroDDR4(),
		rkx7(),
		tangPrimer20K(),
		interwiser(),
		zu5ev(),
		nfcard(),
		vcu37p(),
		generic(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(name string) (*Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, name, "unknown target")
	}
	return t, nil
}

// Names returns the sorted target names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// base fills the parts every target shares: identity, pins, CPU, integrated
// memories and console.
func base(name string, b *boards.Board, o *Options) (soc.Config, int64, error) {
	sys := b.Clock.Freq
	if o.SysClkFreq != "" {
		f, err := o.SysClk()
		if err != nil {
			return soc.Config{}, 0, err
		}
		sys = f
	}
	cpu, err := soc.LookupCPU(o.CPU)
	if err != nil {
		return soc.Config{}, 0, err
	}
	cfg := soc.Config{
		Name:                  name,
		Ident:                 "SoC on " + b.ID,
		Board:                 b.ID,
		Device:                b.Device,
		Pins:                  b.Pins,
		SysClkFreq:            sys,
		CPU:                   cpu.Name,
		CPUVariant:            o.CPUVariant,
		IntegratedROMSize:     o.size("integrated-rom-size", o.IntegratedROMSize, cpu.ROMSize),
		IntegratedSRAMSize:    o.size("integrated-sram-size", o.IntegratedSRAMSize, cpu.SRAMSize),
		IntegratedMainRAMSize: o.IntegratedMainRAMSize,
	}
	if cfg.CPUVariant == "" {
		cfg.CPUVariant = cpu.Variant
	}
	switch o.UARTName {
	case "serial":
		// boards without a serial port fall back to the crossover UART
		// unless serial was asked for
		if !b.Pins.Has("serial") && !o.changed("uart-name") {
			cfg.UART = soc.UART{Name: "crossover", Baudrate: o.UARTBaudrate}
			break
		}
		cfg.UART = soc.UART{Name: "serial", Baudrate: o.UARTBaudrate}
	case "crossover":
		cfg.UART = soc.UART{Name: "crossover", Baudrate: o.UARTBaudrate}
	}
	return cfg, sys, nil
}

// boardPLL is the single-PLL clocking most targets use: the board
// oscillator into one PLL of the device family, its input asynchronous to
// sys.
func boardPLL(b *boards.Board, outputs ...clock.Output) clock.PLLSpec {
	return clock.PLLSpec{
		Name:          "pll",
		Family:        b.PLL.Family,
		SpeedGrade:    b.PLL.SpeedGrade,
		Source:        b.Clock.Name,
		Outputs:       outputs,
		FalsePathFrom: []string{clock.SysDomain},
	}
}

func enabled(kind soc.Kind, name string, p soc.Params) soc.Descriptor {
	return soc.Descriptor{Kind: kind, Name: name, Enabled: true, Params: p}
}

func when(on bool, kind soc.Kind, name string, p soc.Params) soc.Descriptor {
	return soc.Descriptor{Kind: kind, Name: name, Enabled: on, Params: p}
}

// ethernet returns the Ethernet descriptor for the MAC or Etherbone mode.
func ethernet(o *Options, p soc.EthernetParams) soc.Descriptor {
	p.LocalIP = o.EthIP
	if o.WithEtherbone {
		p.Mode = soc.Etherbone
		return enabled(soc.KindEthernet, "ethphy", p)
	}
	p.Mode = soc.EthernetMAC
	p.RemoteIP = o.RemoteIP
	p.DynamicIP = o.EthDynamicIP
	return when(o.WithEthernet, soc.KindEthernet, "ethphy", p)
}

func sdcard(o *Options, native, spi string) soc.Descriptor {
	if o.WithSPISDCard {
		return enabled(soc.KindSDCard, "sdcard", soc.SDCardParams{Pads: spi, SPI: true})
	}
	return when(o.WithSDCard, soc.KindSDCard, "sdcard", soc.SDCardParams{Pads: native})
}

// ledPads returns the first LED group the board has.
func ledPads(b *boards.Board) string {
	for _, n := range []string{"user_led", "led"} {
		if b.Pins.Has(n) {
			return n
		}
	}
	return ""
}

func generic() *Target {
	d := DefaultOptions()
	d.SysClkFreq = ""
	return &Target{
		Name:        "generic",
		Description: "Minimal SoC for any board: CPU, console and LED chaser",
		Features:    FeatBoard | FeatVariant | FeatFlash | FeatLEDs,
		Defaults:    d,
		Plan: func(b *boards.Board, o *Options) (soc.Config, error) {
			cfg, sys, err := base("generic_"+b.ID, b, o)
			if err != nil {
				return cfg, err
			}
			cfg.Clocking = clock.Spec{
				Sources: []clock.Source{b.ClockSource()},
				PLLs:    []clock.PLLSpec{boardPLL(b, clock.Output{Domain: clock.SysDomain, Freq: sys})},
			}
			if leds := ledPads(b); leds != "" {
				cfg.Peripherals = append(cfg.Peripherals,
					when(o.WithLEDChaser, soc.KindGPIO, "leds", soc.LEDChaserParams{Pads: leds}))
			}
			return cfg, nil
		},
	}
}
