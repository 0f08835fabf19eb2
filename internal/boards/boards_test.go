package boards

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/socerr"
	"github.com/appkins-org/go-socbuild/internal/toolchain"
)

func testSet() *toolchain.Set {
	return toolchain.NewSet(toolchain.ExecRunner{Log: logr.Discard()}, toolchain.Tools{}, logr.Discard())
}

func TestBuiltinBoards(t *testing.T) {
	r, err := NewRegistry(testSet(), logr.Discard())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"antmicro_datacenter_ddr4_test_board",
		"mnt_rkx7",
		"sipeed_tang_primer_20k",
		"xilinx_interwiser",
		"xilinx_nfcard",
		"xilinx_vcu37p",
		"xilinx_zu5ev",
	}, r.IDs())

	for _, id := range r.IDs() {
		t.Run(id, func(t *testing.T) {
			b, err := r.Board(id, "")
			require.NoError(t, err)
			assert.NotEmpty(t, b.Device)
			assert.NotNil(t, b.Toolchain)
			assert.NotNil(t, b.Programmer)
			assert.True(t, b.Pins.Has(b.Clock.Name), "default clock %s is in the pin map", b.Clock.Name)
		})
	}
}

func TestBoardPlatform(t *testing.T) {
	r, err := NewRegistry(testSet(), logr.Discard())
	require.NoError(t, err)

	b, err := r.Board("xilinx_vcu37p", "")
	require.NoError(t, err)
	assert.Equal(t, "vivado", b.Toolchain.Name())
	assert.Equal(t, "xcvu37p-fsvh2892-2-e", b.Platform.Device)
	assert.Equal(t, "spix4", b.Platform.FlashInterface)
	assert.Contains(t, b.Platform.Commands, "set_property CONFIG_MODE SPIx4 [current_design]")

	ddr, ok := b.Pins.Lookup("ddram", 0)
	require.True(t, ok)
	assert.Len(t, ddr.AllPins(), 14+1+1+1+1+2+2+1+1+1+1+64+8+8+1+1)

	src := b.ClockSource()
	assert.Equal(t, "sysclk", src.Pin)
	assert.Equal(t, int64(125_000_000), src.Freq)
}

func TestBoardVariants(t *testing.T) {
	r, err := NewRegistry(testSet(), logr.Discard())
	require.NoError(t, err)

	std, err := r.Board("sipeed_tang_primer_20k", "")
	require.NoError(t, err)
	assert.Equal(t, "standard", std.Variant)
	assert.Equal(t, "gowin", std.Toolchain.Name())
	assert.Equal(t, "GW2A-18C", std.Platform.Family)
	assert.Equal(t, 6, std.Pins.Count("led"))
	assert.True(t, std.Pins.Has("eth"))

	lite, err := r.Board("sipeed_tang_primer_20k", "lite")
	require.NoError(t, err)
	assert.False(t, lite.Pins.Has("led"))
	assert.Equal(t, 2, lite.Pins.Count("btn_n"))
	assert.True(t, lite.Pins.Has("ddram"), "core board I/O is kept")

	_, err = r.Board("sipeed_tang_primer_20k", "deluxe")
	assert.ErrorIs(t, err, socerr.InvalidOption)

	_, err = r.Board("xilinx_zu5ev", "lite")
	assert.ErrorIs(t, err, socerr.InvalidOption)

	_, err = r.Board("no_such_board", "")
	assert.ErrorIs(t, err, socerr.ResourceNotFound)
}

const userBoard = `
id: my_arty
vendor: Digilent
device: xc7a35ticsg324-1L
toolchain: vivado
programmer:
  name: openfpgaloader
  board: arty
clock: {name: clk100, freq: 100000000}
pll: {family: S7PLL, speedgrade: -1}
io:
  - {name: clk100, pins: E3, iostandard: LVCMOS33}
  - name: serial
    iostandard: LVCMOS33
    subsignals:
      - {name: tx, pins: D10}
      - {name: rx, pins: A9}
  - {name: user_led, index: 0, pins: H5, iostandard: LVCMOS33}
`

func TestUserBoards(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my_arty.yaml"), []byte(userBoard), 0o644))

	r, err := NewRegistry(testSet(), logr.Discard(), dir)
	require.NoError(t, err)
	b, err := r.Board("my_arty", "")
	require.NoError(t, err)
	assert.Equal(t, "Digilent", b.Vendor)
	assert.Empty(t, b.Variant)
	_, ok := b.Programmer.(*toolchain.OpenFPGALoader)
	assert.True(t, ok)

	dup := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dup, "a.yaml"), []byte(userBoard), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dup, "b.yaml"), []byte(userBoard), 0o644))
	_, err = NewRegistry(testSet(), logr.Discard(), dup)
	assert.ErrorIs(t, err, socerr.ResourceInUse)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"no id":         "device: x\ntoolchain: vivado\nclock: {name: c, freq: 1}\npll: {family: S7PLL}\nio: [{name: c, pins: A1}]",
		"no toolchain":  "id: b\ndevice: x\nclock: {name: c, freq: 1}\npll: {family: S7PLL}\nio: [{name: c, pins: A1}]",
		"no clock":      "id: b\ndevice: x\ntoolchain: vivado\npll: {family: S7PLL}\nio: [{name: c, pins: A1}]",
		"bad family":    "id: b\ndevice: x\ntoolchain: vivado\nclock: {name: c, freq: 1}\npll: {family: ECP5PLL}\nio: [{name: c, pins: A1}]",
		"duplicate pin": "id: b\ndevice: x\ntoolchain: vivado\nclock: {name: c, freq: 1}\npll: {family: S7PLL}\nio: [{name: c, pins: A1}, {name: c, pins: A2}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"b.yaml":   {Data: []byte("id: b\ndevice: x\ntoolchain: vivado\nclock: {name: c, freq: 1}\npll: {family: S7PLL}\nio: [{name: c, pins: A1}]")},
		"a.yaml":   {Data: []byte("id: a\ndevice: x\ntoolchain: gowin\nclock: {name: c, freq: 1}\npll: {family: GW2APLL}\nio: [{name: c, pins: A1}]")},
		"notes.md": {Data: []byte("ignored")},
	}
	defs, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].ID)
	assert.Equal(t, "b", defs[1].ID)
}
