package clock

import (
	"slices"
	"sort"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// DefaultMarginPPM is the tolerated deviation of a generated clock from its
// requested frequency.
const DefaultMarginPPM = 10_000

type searchOrder int

const (
	// vcoFeedback: vco = clkin*mult/div, out = vco/d. Multiplier descending.
	vcoFeedback searchOrder = iota
	// outputFeedback: out = clkin*mult/div, vco = out*d. Multiplier ascending.
	outputFeedback
)

// Range is an inclusive frequency range in Hz.
type Range struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

func (r Range) contains(num, den int64) bool {
	return num >= r.Min*den && num <= r.Max*den
}

// Family describes the configuration space of a PLL/MMCM primitive.
type Family struct {
	Name       string
	ClkIn      Range
	VCO        map[int]Range
	PFD        Range
	Divider    [2]int
	Mult       [2]int
	OutDivs    []int
	MaxOutputs int

	order searchOrder
}

func divRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for d := lo; d <= hi; d++ {
		out = append(out, d)
	}
	return out
}

var families = map[string]Family{
	"S7PLL": {
		Name:  "S7PLL",
		ClkIn: Range{19_000_000, 800_000_000},
		VCO: map[int]Range{
			-1: {800_000_000, 1_600_000_000},
			-2: {800_000_000, 1_866_000_000},
			-3: {800_000_000, 2_133_000_000},
		},
		Divider:    [2]int{1, 56},
		Mult:       [2]int{2, 64},
		OutDivs:    divRange(1, 128),
		MaxOutputs: 6,
	},
	"S7MMCM": {
		Name:  "S7MMCM",
		ClkIn: Range{10_000_000, 800_000_000},
		VCO: map[int]Range{
			-1: {600_000_000, 1_200_000_000},
			-2: {600_000_000, 1_440_000_000},
			-3: {600_000_000, 1_600_000_000},
		},
		Divider:    [2]int{1, 106},
		Mult:       [2]int{2, 64},
		OutDivs:    divRange(1, 128),
		MaxOutputs: 7,
	},
	"USPMMCM": {
		Name:  "USPMMCM",
		ClkIn: Range{10_000_000, 800_000_000},
		VCO: map[int]Range{
			-1: {800_000_000, 1_600_000_000},
			-2: {800_000_000, 1_600_000_000},
			-3: {800_000_000, 1_600_000_000},
		},
		Divider:    [2]int{1, 106},
		Mult:       [2]int{2, 128},
		OutDivs:    divRange(1, 128),
		MaxOutputs: 7,
	},
	"GW2APLL": {
		Name:  "GW2APLL",
		ClkIn: Range{3_000_000, 500_000_000},
		VCO: map[int]Range{
			0: {500_000_000, 1_250_000_000},
		},
		PFD:        Range{3_000_000, 500_000_000},
		Divider:    [2]int{1, 64},
		Mult:       [2]int{1, 64},
		OutDivs:    []int{2, 4, 8, 16, 32, 48, 64, 80, 96, 112, 128},
		MaxOutputs: 1,
		order:      outputFeedback,
	},
}

// LookupFamily returns the named PLL family.
func LookupFamily(name string) (Family, bool) {
	f, ok := families[name]
	return f, ok
}

// Families returns the names of every known PLL family, sorted.
func Families() []string {
	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VCORange returns the VCO range for speedgrade. Families with a single
// range ignore the speed grade.
func (f Family) VCORange(speedgrade int) (Range, bool) {
	if r, ok := f.VCO[speedgrade]; ok {
		return r, true
	}
	if len(f.VCO) == 1 {
		for _, r := range f.VCO {
			return r, true
		}
	}
	return Range{}, false
}

// OutputConfig is the solved divider of one PLL output.
type OutputConfig struct {
	Domain    string   `json:"domain"`
	Divide    int      `json:"divide"`
	Freq      Rational `json:"freq"`
	Requested int64    `json:"requested"`
	Phase     float64  `json:"phase"`
	ResetLess bool     `json:"reset_less,omitempty"`
}

// PLLConfig is a solved PLL configuration.
type PLLConfig struct {
	Name       string         `json:"name"`
	Family     string         `json:"family"`
	SpeedGrade int            `json:"speedgrade"`
	Source     string         `json:"source"`
	ClkIn      int64          `json:"clkin"`
	Divider    int            `json:"divider"`
	Mult       int            `json:"mult"`
	VCO        Rational       `json:"vco"`
	Outputs    []OutputConfig `json:"outputs"`
	Locked     string         `json:"locked"`
	ClkInNet   string         `json:"clkin_net"`
}

// Compute searches the family's divider space for a configuration that
// produces every output within its margin. The search visits the input
// divider in ascending order and returns the first valid configuration.
func (f Family) Compute(name string, clkin int64, speedgrade int, outputs []Output) (PLLConfig, error) {
	if len(outputs) == 0 {
		return PLLConfig{}, socerr.New(socerr.ClockConfigError, name, "no outputs requested")
	}
	if len(outputs) > f.MaxOutputs {
		return PLLConfig{}, socerr.New(socerr.ClockConfigError, name,
			"%d outputs requested, %s supports %d", len(outputs), f.Name, f.MaxOutputs)
	}
	if !f.ClkIn.contains(clkin, 1) {
		return PLLConfig{}, socerr.New(socerr.ClockConfigError, name,
			"input %s outside %s range %s..%s", Hz(clkin), f.Name, Hz(f.ClkIn.Min), Hz(f.ClkIn.Max))
	}
	vco, ok := f.VCORange(speedgrade)
	if !ok {
		return PLLConfig{}, socerr.New(socerr.ClockConfigError, name,
			"speed grade %d not supported by %s", speedgrade, f.Name)
	}
	for _, o := range outputs {
		if o.Freq <= 0 {
			return PLLConfig{}, socerr.New(socerr.ClockConfigError, o.Domain, "invalid frequency %d", o.Freq)
		}
	}

	mults := divRange(f.Mult[0], f.Mult[1])
	if f.order == vcoFeedback {
		slices.Reverse(mults)
	}
	for div := f.Divider[0]; div <= f.Divider[1]; div++ {
		d64 := int64(div)
		if f.PFD.Max > 0 && !f.PFD.contains(clkin, d64) {
			continue
		}
		for _, mult := range mults {
			var (
				outs []OutputConfig
				ok   bool
			)
			switch f.order {
			case outputFeedback:
				outs, ok = f.solveOutputFeedback(clkin, d64, int64(mult), vco, outputs)
			default:
				outs, ok = f.solveVCOFeedback(clkin, d64, int64(mult), vco, outputs)
			}
			if !ok {
				continue
			}
			vcoNum, vcoDen := clkin*int64(mult), d64
			if f.order == outputFeedback {
				vcoNum *= int64(outs[0].Divide)
			}
			return PLLConfig{
				Name:       name,
				Family:     f.Name,
				SpeedGrade: speedgrade,
				ClkIn:      clkin,
				Divider:    div,
				Mult:       mult,
				VCO:        NewRational(vcoNum, vcoDen),
				Outputs:    outs,
				Locked:     name + "_locked",
				ClkInNet:   name + "_clkin",
			}, nil
		}
	}
	return PLLConfig{}, socerr.New(socerr.ClockConfigError, name, "no %s configuration found for %s", f.Name, describe(clkin, outputs))
}

func (f Family) solveVCOFeedback(clkin, div, mult int64, vco Range, outputs []Output) ([]OutputConfig, bool) {
	vcoNum := clkin * mult
	if !vco.contains(vcoNum, div) {
		return nil, false
	}
	outs := make([]OutputConfig, 0, len(outputs))
	for _, o := range outputs {
		found := false
		for _, d := range f.OutDivs {
			freq := NewRational(vcoNum, div*int64(d))
			if freq.Within(o.Freq, o.margin()) {
				outs = append(outs, o.config(d, freq))
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return outs, true
}

func (f Family) solveOutputFeedback(clkin, div, mult int64, vco Range, outputs []Output) ([]OutputConfig, bool) {
	o := outputs[0]
	freq := NewRational(clkin*mult, div)
	if !freq.Within(o.Freq, o.margin()) {
		return nil, false
	}
	for _, d := range f.OutDivs {
		if vco.contains(clkin*mult*int64(d), div) {
			return []OutputConfig{o.config(d, freq)}, true
		}
	}
	return nil, false
}

func describe(clkin int64, outputs []Output) string {
	s := Hz(clkin).String() + " ->"
	for _, o := range outputs {
		s += " " + o.Domain + "=" + Hz(o.Freq).String()
	}
	return s
}
