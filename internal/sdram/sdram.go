// Package sdram derives memory controller settings (PHY, geometry, timing)
// from a module profile, a PHY and the system clock.
package sdram

import (
	"math/bits"
	"slices"
	"sort"

	"github.com/ccoveille/go-safecast"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

type PhySettings struct {
	PhyType      string `json:"phytype"`
	MemType      string `json:"memtype"`
	Databits     int    `json:"databits"`
	DFIDatabits  int    `json:"dfi_databits"`
	NRanks       int    `json:"nranks"`
	NPhases      int    `json:"nphases"`
	RdPhase      int    `json:"rdphase"`
	WrPhase      int    `json:"wrphase"`
	CL           int    `json:"cl"`
	CWL          int    `json:"cwl"`
	ReadLatency  int    `json:"read_latency"`
	WriteLatency int    `json:"write_latency"`
	CmdLatency   int    `json:"cmd_latency"`
	CmdDelay     int    `json:"cmd_delay"`
	IsRDIMM      bool   `json:"is_rdimm"`
	RttNom       string `json:"rtt_nom,omitempty"`
	RttWr        string `json:"rtt_wr,omitempty"`
	Ron          string `json:"ron,omitempty"`
}

type GeomSettings struct {
	BankBits int `json:"bankbits"`
	RowBits  int `json:"rowbits"`
	ColBits  int `json:"colbits"`
}

type TimingSettings struct {
	TRP             int    `json:"tRP"`
	TRCD            int    `json:"tRCD"`
	TWR             int    `json:"tWR"`
	TWTR            int    `json:"tWTR"`
	TREFI           int    `json:"tREFI"`
	TRFC            int    `json:"tRFC"`
	TFAW            int    `json:"tFAW"`
	TCCD            int    `json:"tCCD"`
	TRRD            int    `json:"tRRD"`
	TRC             int    `json:"tRC"`
	TRAS            int    `json:"tRAS"`
	TZQCS           int    `json:"tZQCS"`
	FineRefreshMode string `json:"fine_refresh_mode,omitempty"`
}

// ControllerSettings is the settings record consumed by firmware builds.
type ControllerSettings struct {
	CmdBufferDepth    int            `json:"cmd_buffer_depth"`
	CmdBufferBuffered bool           `json:"cmd_buffer_buffered"`
	ReadTime          int            `json:"read_time"`
	WriteTime         int            `json:"write_time"`
	WithBandwidth     bool           `json:"with_bandwidth"`
	WithRefresh       bool           `json:"with_refresh"`
	RefreshZQCSFreq   int            `json:"refresh_zqcs_freq"`
	RefreshPostponing int            `json:"refresh_postponing"`
	WithAutoPrecharge bool           `json:"with_auto_precharge"`
	AddressMapping    string         `json:"address_mapping"`
	Phy               PhySettings    `json:"phy"`
	Geom              GeomSettings   `json:"geom"`
	Timing            TimingSettings `json:"timing"`
}

// Options parameterize Settings.
type Options struct {
	// Databits is the data bus width seen by the PHY, derived from the pads.
	Databits   int
	NRanks     int
	SpeedGrade string
	// FineRefreshMode applies to DDR4 only; defaults to "1x".
	FineRefreshMode string
	RttNom          string
}

// Rate returns the controller:memory clock ratio of the PHY, e.g. "1:4".
func (p PHY) Rate() string {
	switch p.NPhases {
	case 1:
		return "1:1"
	case 2:
		return "1:2"
	default:
		return "1:4"
	}
}

// LookupModule returns the named module profile.
func LookupModule(name string) (Module, bool) {
	m, ok := modules[name]
	return m, ok
}

// LookupPHY returns the named PHY.
func LookupPHY(name string) (PHY, bool) {
	p, ok := phys[name]
	return p, ok
}

// Modules lists the known module profiles.
func Modules() []string {
	out := make([]string, 0, len(modules))
	for n := range modules {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Settings derives the controller settings for module driven by phy at
// sysClk Hz.
func Settings(moduleName, phyName string, sysClk int64, opts Options) (ControllerSettings, error) {
	m, ok := LookupModule(moduleName)
	if !ok {
		return ControllerSettings{}, socerr.New(socerr.ResourceNotFound, moduleName, "unknown memory module")
	}
	p, ok := LookupPHY(phyName)
	if !ok {
		return ControllerSettings{}, socerr.New(socerr.ResourceNotFound, phyName, "unknown memory PHY")
	}
	if !slices.Contains(p.MemTypes, m.MemType) {
		return ControllerSettings{}, socerr.New(socerr.InvalidOption, phyName, "%s does not drive %s memory", p.Name, m.MemType)
	}
	if opts.Databits <= 0 || opts.Databits%8 != 0 {
		return ControllerSettings{}, socerr.New(socerr.InvalidOption, moduleName, "invalid data width %d", opts.Databits)
	}
	if sysClk <= 0 {
		return ControllerSettings{}, socerr.New(socerr.ClockConfigError, moduleName, "invalid sys clock %d", sysClk)
	}
	nranks := opts.NRanks
	if nranks == 0 {
		nranks = 1
	}

	phy, err := phySettings(p, m, sysClk, opts.Databits, nranks)
	if err != nil {
		return ControllerSettings{}, err
	}
	phy.RttNom = opts.RttNom

	timing, err := timingSettings(m, p.Rate(), sysClk, opts)
	if err != nil {
		return ControllerSettings{}, err
	}

	return ControllerSettings{
		CmdBufferDepth:    8,
		ReadTime:          32,
		WriteTime:         16,
		WithRefresh:       true,
		RefreshZQCSFreq:   1,
		RefreshPostponing: 1,
		WithAutoPrecharge: true,
		AddressMapping:    "ROW_BANK_COL",
		Phy:               phy,
		Geom: GeomSettings{
			BankBits: log2(m.NBanks),
			RowBits:  log2(m.NRows),
			ColBits:  log2(m.NCols),
		},
		Timing: timing,
	}, nil
}

// Size returns the addressable size in bytes of the memory described by s.
func (s ControllerSettings) Size() (uint64, error) {
	shift := s.Geom.BankBits + s.Geom.RowBits + s.Geom.ColBits
	ranks, err := safecast.ToUint64(s.Phy.NRanks)
	if err != nil {
		return 0, err
	}
	bytes, err := safecast.ToUint64(s.Phy.Databits / 8)
	if err != nil {
		return 0, err
	}
	return (uint64(1) << shift) * ranks * bytes, nil
}

func phySettings(p PHY, m Module, sysClk int64, databits, nranks int) (PhySettings, error) {
	// the memory runs at nphases*sys, data at twice that
	rate := 2 * int64(p.NPhases) * sysClk
	var cl, cwl int
	found := false
	for _, e := range clcwlTables[m.MemType] {
		if rate <= e.freq {
			cl, cwl, found = e.cl, e.cwl, true
			break
		}
	}
	if !found {
		return PhySettings{}, socerr.New(socerr.ClockConfigError, p.Name,
			"no %s speed bin for %d MT/s", m.MemType, rate/1_000_000)
	}
	clSys := ceilDiv(cl+p.CmdLatency, p.NPhases)
	cwlSys := ceilDiv(cwl+p.CmdLatency, p.NPhases)
	return PhySettings{
		PhyType:      p.Name,
		MemType:      m.MemType,
		Databits:     databits,
		DFIDatabits:  2 * databits,
		NRanks:       nranks,
		NPhases:      p.NPhases,
		RdPhase:      sysPhase(p.NPhases, clSys, cl+p.CmdLatency),
		WrPhase:      sysPhase(p.NPhases, cwlSys, cwl+p.CmdLatency),
		CL:           cl,
		CWL:          cwl,
		ReadLatency:  clSys + p.ReadExtra,
		WriteLatency: cwlSys + p.WriteAdjust,
		CmdLatency:   p.CmdLatency,
		IsRDIMM:      m.Registered,
	}, nil
}

func timingSettings(m Module, rate string, sysClk int64, opts Options) (TimingSettings, error) {
	sgName := opts.SpeedGrade
	if sgName == "" {
		sgName = m.Default
	}
	sg, ok := m.SpeedGrades[sgName]
	if !ok {
		return TimingSettings{}, socerr.New(socerr.InvalidOption, m.Name, "unknown speed grade %q", sgName)
	}
	mode := "1x"
	if m.MemType == "DDR4" && opts.FineRefreshMode != "" {
		mode = opts.FineRefreshMode
	}
	refi, ok := m.Tech.REFI[mode]
	if !ok {
		return TimingSettings{}, socerr.New(socerr.InvalidOption, m.Name, "unknown fine refresh mode %q", mode)
	}
	rfc, ok := sg.RFC[mode]
	if !ok {
		return TimingSettings{}, socerr.New(socerr.InvalidOption, m.Name, "no tRFC for refresh mode %q", mode)
	}
	c := converter{rate: rate, freq: sysClk}
	rc := sg.RC
	if rc == 0 {
		rc = sg.RP + sg.RAS
	}
	t := TimingSettings{
		TRP:   c.ns(sg.RP, true),
		TRCD:  c.ns(sg.RCD, true),
		TWR:   c.ns(sg.WR, true),
		TWTR:  c.ckns(m.Tech.WTR),
		TREFI: c.ns(refi, false),
		TRFC:  c.ckns(rfc),
		TFAW:  c.ckns(sg.FAW),
		TCCD:  c.ckns(m.Tech.CCD),
		TRRD:  c.ckns(m.Tech.RRD),
		TRC:   c.ns(rc, true),
		TRAS:  c.ns(sg.RAS, true),
		TZQCS: c.ckns(m.Tech.ZQCS),
	}
	if m.MemType == "DDR4" {
		t.FineRefreshMode = mode
	}
	return t, nil
}

type converter struct {
	rate string
	freq int64
}

const psPerSecond = 1_000_000_000_000

// ns converts a duration to sys cycles, adding the rate dependent margin
// (none at 1:1, half a cycle at 1:2, three quarters at 1:4) when margin is set.
func (c converter) ns(ps int64, margin bool) int {
	num, den := int64(0), int64(1)
	if margin {
		switch c.rate {
		case "1:2":
			num, den = 1, 2
		case "1:4":
			num, den = 3, 4
		}
	}
	// ceil(ps*f/1e12 + num/den)
	total := den*ps*c.freq + num*psPerSecond
	q := den * psPerSecond
	return int((total + q - 1) / q)
}

func (c converter) ck(ck int) int {
	switch c.rate {
	case "1:2":
		return ceilDiv(ck, 2)
	case "1:4":
		return ceilDiv(ck, 4)
	default:
		return ck
	}
}

func (c converter) ckns(t CKNS) int {
	return max(c.ck(t.CK), c.ns(t.PS, true))
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func sysPhase(nphases, sysLatency, casLatency int) int {
	return sysLatency*nphases - casLatency
}

func log2(n int) int {
	u, err := safecast.ToUint(n)
	if err != nil || u == 0 {
		return 0
	}
	return bits.Len(u) - 1
}
