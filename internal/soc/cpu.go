package soc

import (
	"sort"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

const (
	CPUVexRiscv = "vexriscv"
	CPUZynqMP   = "zynqmp"
	CPUNone     = "none"
)

// CPU describes the address layout and interrupt capacity a CPU imposes
// on the SoC.
type CPU struct {
	Name      string
	Variant   string
	MemMap    map[string]uint64
	IORegions []Region
	NIRQs     int
	// Masters are the bus masters the CPU contributes.
	Masters []string
	// Integrated memories the SoC adds by default for this CPU.
	ROMSize  uint64
	SRAMSize uint64
}

var cpus = map[string]CPU{
	CPUVexRiscv: {
		Name:    CPUVexRiscv,
		Variant: "standard",
		MemMap: map[string]uint64{
			"rom":      0x0000_0000,
			"sram":     0x1000_0000,
			"main_ram": 0x4000_0000,
			"csr":      0xf000_0000,
		},
		IORegions: []Region{{Name: "io0", Origin: 0x8000_0000, Size: 0x8000_0000}},
		NIRQs:     32,
		Masters:   []string{"cpu_ibus", "cpu_dbus"},
		ROMSize:   0x2_0000,
		SRAMSize:  0x2000,
	},
	CPUZynqMP: {
		Name: CPUZynqMP,
		MemMap: map[string]uint64{
			"sram": 0x0000_0000,
			"rom":  0xc000_0000,
			"csr":  0x8000_0000,
		},
		IORegions: []Region{{Name: "io0", Origin: 0x8000_0000, Size: 0x4000_0000}},
		NIRQs:     16,
		Masters:   []string{"zynqmp_gp0"},
	},
	CPUNone: {
		Name:      CPUNone,
		MemMap:    map[string]uint64{"csr": 0x0000_0000},
		IORegions: []Region{{Name: "io0", Origin: 0, Size: 1 << 32}},
	},
}

// LookupCPU returns the named CPU profile.
func LookupCPU(name string) (CPU, error) {
	c, ok := cpus[name]
	if !ok {
		return CPU{}, socerr.New(socerr.InvalidOption, name, "unknown cpu type")
	}
	return c, nil
}

// CPUs lists the known CPU types.
func CPUs() []string {
	out := make([]string, 0, len(cpus))
	for n := range cpus {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
