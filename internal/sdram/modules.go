package sdram

// Timings are kept in picoseconds so that cycle conversion stays in integer
// arithmetic.

// CKNS is a timing given as a minimum number of memory clocks and a minimum
// duration; the larger of the two applies.
type CKNS struct {
	CK int
	PS int64
}

type TechTimings struct {
	// REFI by fine refresh mode ("1x", "2x", "4x"). DDR3 modules only carry "1x".
	REFI map[string]int64
	WTR  CKNS
	CCD  CKNS
	RRD  CKNS
	ZQCS CKNS
}

type SpeedGrade struct {
	RP  int64
	RCD int64
	WR  int64
	// RFC by fine refresh mode.
	RFC map[string]CKNS
	FAW CKNS
	RAS int64
	// RC defaults to RP+RAS when zero.
	RC int64
}

// Module is a memory device or DIMM profile.
type Module struct {
	Name        string
	MemType     string
	NBanks      int
	NRows       int
	NCols       int
	Registered  bool
	Tech        TechTimings
	SpeedGrades map[string]SpeedGrade
	Default     string
}

const refi64ms8k = 7_812_500 // 64ms / 8192 rows

func fineRefresh(d int64) map[string]int64 {
	return map[string]int64{"1x": d, "2x": d / 2, "4x": d / 4}
}

var ddr4RFC8Gb = map[string]CKNS{"1x": {PS: 350_000}, "2x": {PS: 260_000}, "4x": {PS: 160_000}}

var modules = map[string]Module{
	"MT41J128M16": {
		Name:    "MT41J128M16",
		MemType: "DDR3",
		NBanks:  8, NRows: 16384, NCols: 1024,
		Tech: TechTimings{
			REFI: map[string]int64{"1x": refi64ms8k},
			WTR:  CKNS{4, 7_500},
			CCD:  CKNS{CK: 4},
			RRD:  CKNS{4, 10_000},
			ZQCS: CKNS{64, 80_000},
		},
		SpeedGrades: map[string]SpeedGrade{
			"800":  {RP: 13_100, RCD: 13_100, WR: 13_100, RFC: map[string]CKNS{"1x": {CK: 64}}, FAW: CKNS{PS: 50_000}, RAS: 37_500},
			"1066": {RP: 13_100, RCD: 13_100, WR: 13_100, RFC: map[string]CKNS{"1x": {CK: 86}}, FAW: CKNS{PS: 50_000}, RAS: 37_500},
			"1333": {RP: 13_500, RCD: 13_500, WR: 13_500, RFC: map[string]CKNS{"1x": {CK: 107}}, FAW: CKNS{PS: 45_000}, RAS: 36_000},
			"1600": {RP: 13_750, RCD: 13_750, WR: 13_750, RFC: map[string]CKNS{"1x": {CK: 128}}, FAW: CKNS{PS: 40_000}, RAS: 35_000},
		},
		Default: "1600",
	},
	"IS43TR16512B": {
		Name:    "IS43TR16512B",
		MemType: "DDR3",
		NBanks:  8, NRows: 65536, NCols: 1024,
		Tech: TechTimings{
			REFI: map[string]int64{"1x": refi64ms8k},
			WTR:  CKNS{4, 7_500},
			CCD:  CKNS{CK: 4},
			RRD:  CKNS{4, 6_000},
			ZQCS: CKNS{64, 80_000},
		},
		SpeedGrades: map[string]SpeedGrade{
			"1600": {RP: 13_750, RCD: 13_750, WR: 15_000, RFC: map[string]CKNS{"1x": {PS: 260_000}}, FAW: CKNS{PS: 40_000}, RAS: 35_000},
		},
		Default: "1600",
	},
	"MTA18ASF2G72PZ": {
		Name:    "MTA18ASF2G72PZ",
		MemType: "DDR4",
		NBanks:  16, NRows: 131072, NCols: 1024,
		Registered: true,
		Tech: TechTimings{
			REFI: fineRefresh(refi64ms8k),
			WTR:  CKNS{4, 7_500},
			CCD:  CKNS{4, 5_000},
			RRD:  CKNS{4, 4_900},
			ZQCS: CKNS{128, 80_000},
		},
		SpeedGrades: map[string]SpeedGrade{
			"2400": {RP: 13_320, RCD: 13_320, WR: 15_000, RFC: ddr4RFC8Gb, FAW: CKNS{20, 25_000}, RAS: 32_000},
		},
		Default: "2400",
	},
	"MT40A512M16": {
		Name:    "MT40A512M16",
		MemType: "DDR4",
		NBanks:  8, NRows: 65536, NCols: 1024,
		Tech: TechTimings{
			REFI: fineRefresh(refi64ms8k),
			WTR:  CKNS{4, 7_500},
			CCD:  CKNS{4, 6_250},
			RRD:  CKNS{4, 7_500},
			ZQCS: CKNS{128, 80_000},
		},
		SpeedGrades: map[string]SpeedGrade{
			"2400": {RP: 13_320, RCD: 13_320, WR: 15_000, RFC: ddr4RFC8Gb, FAW: CKNS{PS: 35_000}, RAS: 32_000},
		},
		Default: "2400",
	},
	"MT40A1G8": {
		Name:    "MT40A1G8",
		MemType: "DDR4",
		NBanks:  16, NRows: 65536, NCols: 1024,
		Tech: TechTimings{
			REFI: fineRefresh(refi64ms8k),
			WTR:  CKNS{4, 7_500},
			CCD:  CKNS{4, 5_000},
			RRD:  CKNS{4, 4_900},
			ZQCS: CKNS{128, 80_000},
		},
		SpeedGrades: map[string]SpeedGrade{
			"2400": {RP: 13_320, RCD: 13_320, WR: 15_000, RFC: ddr4RFC8Gb, FAW: CKNS{20, 25_000}, RAS: 32_000},
		},
		Default: "2400",
	},
}

// PHY describes a DDR PHY's latency characteristics.
type PHY struct {
	Name     string
	MemTypes []string
	NPhases  int
	// CmdLatency is the number of sys cycles added on the command path.
	CmdLatency int
	// ReadExtra and WriteAdjust are added to the CL/CWL derived sys latencies.
	ReadExtra   int
	WriteAdjust int
}

var phys = map[string]PHY{
	"A7DDRPHY":  {Name: "A7DDRPHY", MemTypes: []string{"DDR2", "DDR3", "DDR4"}, NPhases: 4, CmdLatency: 0, ReadExtra: 6, WriteAdjust: -1},
	"K7DDRPHY":  {Name: "K7DDRPHY", MemTypes: []string{"DDR2", "DDR3", "DDR4"}, NPhases: 4, CmdLatency: 1, ReadExtra: 6, WriteAdjust: -1},
	"GW2DDRPHY": {Name: "GW2DDRPHY", MemTypes: []string{"DDR3"}, NPhases: 2, CmdLatency: 0, ReadExtra: 10, WriteAdjust: 0},
	"USPDDRPHY": {Name: "USPDDRPHY", MemTypes: []string{"DDR4"}, NPhases: 4, CmdLatency: 0, ReadExtra: 5, WriteAdjust: -1},
}

type clcwl struct {
	freq    int64
	cl, cwl int
}

// speed bins, ascending data rate
var clcwlTables = map[string][]clcwl{
	"DDR3": {
		{800_000_000, 6, 5},
		{1_066_000_000, 7, 6},
		{1_333_000_000, 10, 7},
		{1_600_000_000, 11, 8},
		{1_866_000_000, 13, 9},
	},
	"DDR4": {
		{1_600_000_000, 11, 9},
		{1_866_000_000, 13, 10},
		{2_133_000_000, 15, 11},
		{2_400_000_000, 16, 12},
		{2_666_000_000, 18, 14},
	},
}
