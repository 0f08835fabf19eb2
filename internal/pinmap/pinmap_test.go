package pinmap

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable([]Entry{
		{Name: "clk100", Index: 0, Pins: Pins{"F9"}, IOStandard: "LVCMOS18"},
		{Name: "user_led", Index: 0, Pins: Pins{"H10"}, IOStandard: "LVCMOS33"},
		{Name: "user_led", Index: 1, Pins: Pins{"H9"}, IOStandard: "LVCMOS33"},
		{Name: "user_led", Index: 2, Pins: Pins{"G10"}, IOStandard: "LVCMOS33"},
		{Name: "serial", Index: 0, Subsignals: []Subsignal{
			{Name: "tx", Pins: Pins{"F15"}},
			{Name: "rx", Pins: Pins{"E14"}},
		}, IOStandard: "LVCMOS18"},
		{Name: "ddram", Index: 0, Subsignals: []Subsignal{
			{Name: "a", Pins: Pins{"A0", "A1"}, IOStandard: "SSTL15"},
			{Name: "dq", Pins: Pins{
				"Q0", "Q1", "Q2", "Q3", "Q4", "Q5", "Q6", "Q7",
				"Q8", "Q9", "Q10", "Q11", "Q12", "Q13", "Q14", "Q15",
				"Q16", "Q17", "Q18", "Q19", "Q20", "Q21", "Q22", "Q23",
			}, IOStandard: "SSTL15"},
			{Name: "dm", Pins: Pins{"M0", "M1", "M2"}, IOStandard: "SSTL15"},
			{Name: "dqs_p", Pins: Pins{"P0", "P1", "P2"}, IOStandard: "DIFF_SSTL15"},
			{Name: "dqs_n", Pins: Pins{"N0", "N1", "N2"}, IOStandard: "DIFF_SSTL15"},
		}, Misc: []string{"SLEW=FAST"}},
		{Name: "pcie_x4", Index: 0, Subsignals: []Subsignal{{Name: "rst_n", Pins: Pins{"BF5"}}}},
		{Name: "pcie_x16", Index: 0, Subsignals: []Subsignal{{Name: "rst_n", Pins: Pins{"BF5"}}}},
	})
	require.NoError(t, err)
	return tbl
}

func TestNewTableRejectsInvalidEntries(t *testing.T) {
	cases := map[string][]Entry{
		"duplicate":        {{Name: "led", Index: 0, Pins: Pins{"A1"}}, {Name: "led", Index: 0, Pins: Pins{"A2"}}},
		"empty":            {{Name: "led", Index: 0}},
		"both":             {{Name: "led", Index: 0, Pins: Pins{"A1"}, Subsignals: []Subsignal{{Name: "x", Pins: Pins{"A2"}}}}},
		"duplicate sub":    {{Name: "s", Index: 0, Subsignals: []Subsignal{{Name: "tx", Pins: Pins{"A"}}, {Name: "tx", Pins: Pins{"B"}}}}},
		"negative index":   {{Name: "led", Index: -2, Pins: Pins{"A1"}}},
		"unnamed":          {{Index: 0, Pins: Pins{"A1"}}},
		"empty subsignal":  {{Name: "s", Index: 0, Subsignals: []Subsignal{{Name: "tx"}}}},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(entries)
			assert.Error(t, err)
		})
	}
}

func TestPinsUnmarshalFromYAML(t *testing.T) {
	var e Entry
	err := yaml.Unmarshal([]byte(`
name: ddram
index: 0
subsignals:
  - name: a
    pins:
      - "BA20 AW19 AY19"
      - "BB20"
  - name: ba
    pins: "BA21 AY20"
`), &e)
	require.NoError(t, err)
	assert.Equal(t, Pins{"BA20", "AW19", "AY19", "BB20"}, e.Subsignals[0].Pins)
	assert.Equal(t, Pins{"BA21", "AY20"}, e.Subsignals[1].Pins)
}

func TestRequestMissingSignal(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("eth_clocks", 0)
	assert.ErrorIs(t, err, socerr.ResourceNotFound)

	_, err = r.Request("user_led", 7)
	assert.ErrorIs(t, err, socerr.ResourceNotFound)
}

func TestRequestTwiceIsRejected(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("serial", 0)
	require.NoError(t, err)

	_, err = r.Request("serial", 0)
	assert.ErrorIs(t, err, socerr.ResourceInUse)

	_, err = r.Request("serial", Any)
	assert.ErrorIs(t, err, socerr.ResourceInUse)
}

func TestRequestAnyTakesFirstAvailable(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("user_led", 0)
	require.NoError(t, err)
	s, err := r.Request("user_led", Any)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Index)
}

func TestRequestAllSkipsRequested(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("user_led", 1)
	require.NoError(t, err)

	leds, err := r.RequestAll("user_led")
	require.NoError(t, err)
	require.Len(t, leds, 2)
	assert.Equal(t, 0, leds[0].Index)
	assert.Equal(t, 2, leds[1].Index)

	_, err = r.RequestAll("user_led")
	assert.ErrorIs(t, err, socerr.ResourceInUse)
}

func TestSharedPinsCannotBeBoundTwice(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("pcie_x4", 0)
	require.NoError(t, err)

	_, err = r.Request("pcie_x16", 0)
	assert.ErrorIs(t, err, socerr.ResourceInUse)
}

func TestLookupRequest(t *testing.T) {
	r := NewResolver(testTable(t))

	s, err := r.LookupRequest("clk100", Any, true)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = r.LookupRequest("clk100", 0, false)
	assert.ErrorIs(t, err, socerr.ResourceNotFound)

	want, err := r.Request("clk100", 0)
	require.NoError(t, err)
	got, err := r.LookupRequest("clk100", Any, true)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestPortNames(t *testing.T) {
	r := NewResolver(testTable(t))

	led, err := r.Request("user_led", 2)
	require.NoError(t, err)
	serial, err := r.Request("serial", 0)
	require.NoError(t, err)
	clk, err := r.Request("clk100", 0)
	require.NoError(t, err)

	want := []Port{{Name: "user_led2", Pin: "G10", IOStandard: "LVCMOS33"}}
	if diff := cmp.Diff(want, led.Ports()); diff != "" {
		t.Errorf("led ports mismatch (-want +got):\n%s", diff)
	}
	want = []Port{
		{Name: "serial_tx", Pin: "F15", IOStandard: "LVCMOS18"},
		{Name: "serial_rx", Pin: "E14", IOStandard: "LVCMOS18"},
	}
	if diff := cmp.Diff(want, serial.Ports()); diff != "" {
		t.Errorf("serial ports mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "clk100", clk.Ports()[0].Name)
}

func TestReduceKeepsSelectedLanes(t *testing.T) {
	r := NewResolver(testTable(t))

	_, err := r.Request("ddram", 0)
	require.NoError(t, err)

	s, err := r.Reduce("ddram", 0, []int{0, 2})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Lanes())
	assert.Equal(t, 16, s.Width("dq"))
	dq, _ := s.Sub("dq")
	assert.Equal(t, []string{"Q0", "Q1", "Q2", "Q3", "Q4", "Q5", "Q6", "Q7",
		"Q16", "Q17", "Q18", "Q19", "Q20", "Q21", "Q22", "Q23"}, []string(dq.Pins))
	assert.Equal(t, 2, s.Width("a"))

	ports := s.Ports()
	assert.Equal(t, "ddram_a[0]", ports[0].Name)
	assert.Equal(t, []string{"SLEW=FAST"}, ports[0].Misc)

	got, err := r.LookupRequest("ddram", 0, false)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Reduce("ddram", 0, []int{3})
	assert.ErrorIs(t, err, socerr.ResourceNotFound)
}

func TestTableVariants(t *testing.T) {
	tbl := testTable(t)

	lite, err := tbl.Without("user_led")
	require.NoError(t, err)
	assert.False(t, lite.Has("user_led"))
	assert.True(t, tbl.Has("user_led"))

	ext, err := tbl.With(Entry{Name: "btn_n", Index: 0, Pins: Pins{"T10"}})
	require.NoError(t, err)
	assert.Equal(t, 1, ext.Count("btn_n"))

	_, err = tbl.With(Entry{Name: "clk100", Index: 0, Pins: Pins{"X"}})
	assert.Error(t, err)
}
