package pinmap

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Signal is a requested pin map entry bound to one build.
type Signal struct {
	Name       string      `json:"name"`
	Index      int         `json:"index"`
	Pins       []string    `json:"pins,omitempty"`
	IOStandard string      `json:"iostandard,omitempty"`
	Misc       []string    `json:"misc,omitempty"`
	Subsignals []Subsignal `json:"subsignals,omitempty"`

	// multi is set when the group has more than one instance, which puts the
	// index into port names.
	multi bool
}

// Port is one constrained top-level pin.
type Port struct {
	Name       string   `json:"name"`
	Pin        string   `json:"pin"`
	IOStandard string   `json:"iostandard,omitempty"`
	Misc       []string `json:"misc,omitempty"`
}

func newSignal(e Entry, multi bool) *Signal {
	e = e.clone()
	return &Signal{
		Name:       e.Name,
		Index:      e.Index,
		Pins:       e.Pins,
		IOStandard: e.IOStandard,
		Misc:       e.Misc,
		Subsignals: e.Subsignals,
		multi:      multi,
	}
}

// BaseName is the port name prefix of the signal, e.g. "user_led2" or "serial".
func (s *Signal) BaseName() string {
	if s.multi {
		return s.Name + strconv.Itoa(s.Index)
	}
	return s.Name
}

func (s *Signal) String() string { return fmt.Sprintf("%s:%d", s.Name, s.Index) }

// Sub returns the named subsignal.
func (s *Signal) Sub(name string) (Subsignal, bool) {
	for _, sub := range s.Subsignals {
		if sub.Name == name {
			return sub, true
		}
	}
	return Subsignal{}, false
}

// HasSub reports whether the signal carries the named subsignal.
func (s *Signal) HasSub(name string) bool {
	_, ok := s.Sub(name)
	return ok
}

// Width returns the number of pins of the named subsignal, or of the signal
// itself when sub is empty.
func (s *Signal) Width(sub string) int {
	if sub == "" {
		return len(s.AllPins())
	}
	ss, ok := s.Sub(sub)
	if !ok {
		return 0
	}
	return len(ss.Pins)
}

// AllPins returns every package pin of the signal.
func (s *Signal) AllPins() []string {
	return Entry{Pins: s.Pins, Subsignals: s.Subsignals}.AllPins()
}

// Ports flattens the signal into constraint ports. Subsignals inherit the
// entry's IO standard when they have none and always inherit its Misc.
func (s *Signal) Ports() []Port {
	base := s.BaseName()
	if len(s.Subsignals) == 0 {
		return expand(base, s.Pins, s.IOStandard, s.Misc)
	}
	var ports []Port
	for _, sub := range s.Subsignals {
		std := sub.IOStandard
		if std == "" {
			std = s.IOStandard
		}
		misc := append(slices.Clone(sub.Misc), s.Misc...)
		ports = append(ports, expand(base+"_"+sub.Name, sub.Pins, std, misc)...)
	}
	return ports
}

func expand(name string, pins []string, std string, misc []string) []Port {
	if len(pins) == 1 {
		return []Port{{Name: name, Pin: pins[0], IOStandard: std, Misc: slices.Clone(misc)}}
	}
	ports := make([]Port, 0, len(pins))
	for i, p := range pins {
		ports = append(ports, Port{
			Name:       fmt.Sprintf("%s[%d]", name, i),
			Pin:        p,
			IOStandard: std,
			Misc:       slices.Clone(misc),
		})
	}
	return ports
}

// laneWidths lists the pins per byte lane of the DDR data subsignals.
var laneWidths = map[string]int{
	"dq":    8,
	"dm":    1,
	"dqs_p": 1,
	"dqs_n": 1,
}

// Lanes returns the number of DDR byte lanes of the signal.
func (s *Signal) Lanes() int {
	return s.Width("dqs_p")
}

// Reduce returns a copy of a DDR signal keeping only the given byte lanes of
// its data subsignals. Address and control subsignals are kept as is.
func (s *Signal) Reduce(lanes []int) (*Signal, error) {
	n := s.Lanes()
	if n == 0 {
		return nil, socerr.New(socerr.ResourceNotFound, s.Name, "signal has no byte lanes")
	}
	if len(lanes) == 0 {
		return nil, socerr.New(socerr.ResourceNotFound, s.Name, "no lanes selected")
	}
	for _, l := range lanes {
		if l < 0 || l >= n {
			return nil, socerr.New(socerr.ResourceNotFound, s.Name, "lane %d out of range (0..%d)", l, n-1)
		}
	}
	out := newSignal(Entry{
		Name:       s.Name,
		Index:      s.Index,
		Pins:       s.Pins,
		IOStandard: s.IOStandard,
		Misc:       s.Misc,
		Subsignals: s.Subsignals,
	}, s.multi)
	for i, sub := range out.Subsignals {
		w, ok := laneWidths[sub.Name]
		if !ok {
			continue
		}
		if len(sub.Pins) != n*w {
			return nil, socerr.New(socerr.ResourceNotFound, s.Name, "subsignal %s has %d pins, want %d", sub.Name, len(sub.Pins), n*w)
		}
		var pins []string
		for _, l := range lanes {
			pins = append(pins, sub.Pins[l*w:(l+1)*w]...)
		}
		out.Subsignals[i].Pins = pins
	}
	return out, nil
}
