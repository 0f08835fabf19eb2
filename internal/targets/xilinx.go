package targets

import (
	"encoding/xml"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Zynq UltraScale+ processing system layout seen from the fabric.
const (
	zynqmpCSRBase = 0xa000_0000
	zynqmpDDRSize = 0x8000_0000
	zynqmpROMSize = 512 << 20 / 8
)

func interwiser() *Target {
	d := DefaultOptions()
	d.CPU = soc.CPUZynqMP
	d.UARTName = "none"
	return &Target{
		Name:        "xilinx_interwiser",
		Board:       "xilinx_interwiser",
		Description: "Zynq UltraScale+ SoC with the processing system as CPU",
		Features:    FeatPreset | FeatLEDs,
		Defaults:    d,
		Plan: func(b *boards.Board, o *Options) (soc.Config, error) {
			cfg, err := zynqmpPlan("xilinx_interwiser", b, o)
			if err != nil {
				return cfg, err
			}
			if cfg.CPU == soc.CPUZynqMP {
				cfg.Constants = append(cfg.Constants, soc.Constant{Name: "CONFIG_CLOCK_FREQUENCY", Value: "1333333008"})
			}
			cfg.Peripherals = append(cfg.Peripherals,
				when(o.WithLEDChaser, soc.KindGPIO, "leds", soc.LEDChaserParams{Pads: "user_led"}))
			return cfg, nil
		},
	}
}

func zu5ev() *Target {
	d := DefaultOptions()
	d.CPU = soc.CPUZynqMP
	d.UARTName = "none"
	return &Target{
		Name:        "xilinx_zu5ev",
		Board:       "xilinx_zu5ev",
		Description: "Zynq UltraScale+ ZU5EV SoC",
		Features:    FeatPreset,
		Defaults:    d,
		Plan: func(b *boards.Board, o *Options) (soc.Config, error) {
			return zynqmpPlan("xilinx_zu5ev", b, o)
		},
	}
}

// zynqmpPlan clocks the fabric from the processing system and maps its DDR
// and boot memory when the PS is the CPU. Any other CPU runs from the
// board oscillator.
func zynqmpPlan(name string, b *boards.Board, o *Options) (soc.Config, error) {
	cfg, sys, err := base(name, b, o)
	if err != nil {
		return cfg, err
	}
	if cfg.CPU != soc.CPUZynqMP {
		cfg.Clocking = clock.Spec{
			Sources: []clock.Source{b.ClockSource()},
			PLLs:    []clock.PLLSpec{boardPLL(b, clock.Output{Domain: clock.SysDomain, Freq: sys})},
		}
		return cfg, nil
	}

	cpu, err := soc.LookupCPU(soc.CPUZynqMP)
	if err != nil {
		return cfg, err
	}
	cfg.MemMap = map[string]uint64{"csr": zynqmpCSRBase}
	cfg.Regions = []soc.Region{
		{Name: "sram", Origin: cpu.MemMap["sram"], Size: zynqmpDDRSize, Cached: true},
		{Name: "rom", Origin: cpu.MemMap["rom"], Size: zynqmpROMSize, Cached: true, Linker: true},
	}
	cfg.Clocking = clock.Spec{
		Sources: []clock.Source{{Name: "ps", Freq: sys}},
		Derived: []clock.Derived{{Domain: clock.SysDomain, From: "ps", Primitive: clock.Direct, Divide: decimal.NewFromInt(1)}},
	}
	if o.Preset != "" {
		if cfg.CPUConfig, err = LoadPreset(o.Preset); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// LoadPreset reads the user parameters of a processing system preset file.
// Keys lose their dotted prefix, e.g. CONFIG.PSU__UART0__PERIPHERAL__ENABLE
// becomes PSU__UART0__PERIPHERAL__ENABLE.
func LoadPreset(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, socerr.Wrap(socerr.ResourceNotFound, path, err)
	}
	defer f.Close()
	return parsePreset(path, f)
}

func parsePreset(name string, r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, socerr.Wrap(socerr.InvalidOption, name, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "user_parameter" {
			continue
		}
		var key, value string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				key = a.Value
			case "value":
				value = a.Value
			}
		}
		if i := strings.LastIndex(key, "."); i >= 0 {
			key = key[i+1:]
		}
		if key != "" {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil, socerr.New(socerr.InvalidOption, name, "no user parameters in preset")
	}
	return out, nil
}

func nfcard() *Target {
	d := DefaultOptions()
	d.SysClkFreq = "125e6"
	return &Target{
		Name:        "xilinx_nfcard",
		Board:       "xilinx_nfcard",
		Description: "Zynq UltraScale+ network card SoC with fabric DDR4",
		Features:    FeatLEDs,
		Defaults:    d,
		Plan: func(b *boards.Board, o *Options) (soc.Config, error) {
			cfg, err := uspPlan("xilinx_nfcard", b, o, "MT40A512M16")
			if err != nil {
				return cfg, err
			}
			cfg.Peripherals = append(cfg.Peripherals,
				when(o.WithLEDChaser, soc.KindGPIO, "leds", soc.LEDChaserParams{Pads: "user_led"}))
			return cfg, nil
		},
	}
}

func vcu37p() *Target {
	d := DefaultOptions()
	d.SysClkFreq = "125e6"
	return &Target{
		Name:        "xilinx_vcu37p",
		Board:       "xilinx_vcu37p",
		Description: "Virtex UltraScale+ VCU37P SoC with DDR4",
		Features:    FeatFlash,
		Defaults:    d,
		Plan: func(b *boards.Board, o *Options) (soc.Config, error) {
			return uspPlan("xilinx_vcu37p", b, o, "MT40A1G8")
		},
	}
}

// uspPlan is the UltraScale+ fabric DDR4 SoC: an MMCM at four times the
// system clock feeding BUFGCE_DIV buffers for sys4x and sys.
func uspPlan(name string, b *boards.Board, o *Options, module string) (soc.Config, error) {
	cfg, sys, err := base(name, b, o)
	if err != nil {
		return cfg, err
	}
	cfg.Clocking = clock.Spec{
		Sources: []clock.Source{b.ClockSource()},
		PLLs: []clock.PLLSpec{boardPLL(b,
			clock.Output{Domain: "pll4x", Freq: 4 * sys, ResetLess: true},
			clock.Output{Domain: "idelay", Freq: 500_000_000},
		)},
		Derived: []clock.Derived{
			{Domain: "sys4x", From: "pll4x", Primitive: clock.BUFGCEDiv, Divide: decimal.NewFromInt(1), ResetLess: true},
			{Domain: clock.SysDomain, From: "pll4x", Primitive: clock.BUFGCEDiv, Divide: decimal.NewFromInt(4)},
		},
		IODelay: "idelay",
	}
	cfg.Peripherals = []soc.Descriptor{
		enabled(soc.KindMemory, "sdram", soc.SDRAMParams{
			Module:      module,
			PHY:         "USPDDRPHY",
			Pads:        "ddram",
			Size:        0x4000_0000,
			L2CacheSize: o.L2Size,
		}),
	}
	return cfg, nil
}
