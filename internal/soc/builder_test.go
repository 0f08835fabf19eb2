package soc

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

func pins(prefix string, n int) pinmap.Pins {
	out := make(pinmap.Pins, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func testTable(t *testing.T) *pinmap.Table {
	t.Helper()
	tbl, err := pinmap.NewTable([]pinmap.Entry{
		{Name: "clk100", Pins: pinmap.Pins{"E3"}, IOStandard: "LVCMOS33"},
		{Name: "serial", Subsignals: []pinmap.Subsignal{
			{Name: "tx", Pins: pinmap.Pins{"D4"}}, {Name: "rx", Pins: pinmap.Pins{"C4"}},
		}, IOStandard: "LVCMOS33"},
		{Name: "user_led", Index: 0, Pins: pinmap.Pins{"H17"}, IOStandard: "LVCMOS33"},
		{Name: "user_led", Index: 1, Pins: pinmap.Pins{"K15"}, IOStandard: "LVCMOS33"},
		{Name: "ddram", IOStandard: "SSTL15", Subsignals: []pinmap.Subsignal{
			{Name: "a", Pins: pins("A", 14)},
			{Name: "ba", Pins: pins("BA", 3)},
			{Name: "dq", Pins: pins("DQ", 16)},
			{Name: "dm", Pins: pins("DM", 2)},
			{Name: "dqs_p", Pins: pins("DQSP", 2)},
			{Name: "dqs_n", Pins: pins("DQSN", 2)},
		}},
		{Name: "sdcard", IOStandard: "LVCMOS33", Subsignals: []pinmap.Subsignal{
			{Name: "clk", Pins: pinmap.Pins{"SDCLK"}},
			{Name: "cmd", Pins: pinmap.Pins{"SDCMD"}},
			{Name: "data", Pins: pins("SDD", 4)},
		}},
		{Name: "eth_clocks", IOStandard: "LVCMOS33", Subsignals: []pinmap.Subsignal{
			{Name: "tx", Pins: pinmap.Pins{"ETX"}}, {Name: "rx", Pins: pinmap.Pins{"ERX"}},
		}},
		{Name: "eth", IOStandard: "LVCMOS33", Subsignals: []pinmap.Subsignal{
			{Name: "rx_ctl", Pins: pinmap.Pins{"ERXCTL"}},
			{Name: "rx_data", Pins: pins("ERXD", 4)},
			{Name: "tx_ctl", Pins: pinmap.Pins{"ETXCTL"}},
			{Name: "tx_data", Pins: pins("ETXD", 4)},
		}},
		{Name: "usb", IOStandard: "LVCMOS33", Subsignals: []pinmap.Subsignal{
			{Name: "d_p", Pins: pinmap.Pins{"UDP"}}, {Name: "d_n", Pins: pinmap.Pins{"UDN"}},
		}},
	})
	require.NoError(t, err)
	return tbl
}

func testConfig(t *testing.T) Config {
	cpu, _ := LookupCPU(CPUVexRiscv)
	return Config{
		Name:               "test_soc",
		Board:              "test_board",
		Device:             "xc7k160tffg676-2",
		Pins:               testTable(t),
		SysClkFreq:         100_000_000,
		CPU:                CPUVexRiscv,
		IntegratedROMSize:  cpu.ROMSize,
		IntegratedSRAMSize: cpu.SRAMSize,
		UART:               UART{Name: "serial", Baudrate: 115200},
		MemMap:             map[string]uint64{"usb_ohci": 0xc000_0000},
		Clocking: clock.Spec{
			Sources: []clock.Source{{Name: "clk100", Pin: "clk100", Freq: 100_000_000}},
			PLLs: []clock.PLLSpec{{
				Name: "pll", Family: "S7MMCM", SpeedGrade: -2, Source: "clk100",
				FalsePathFrom: []string{"sys"},
				Outputs: []clock.Output{
					{Domain: "sys", Freq: 100_000_000},
					{Domain: "sys4x", Freq: 400_000_000, ResetLess: true},
					{Domain: "idelay", Freq: 200_000_000},
					{Domain: "usb", Freq: 48_000_000},
				},
			}},
			IODelay: "idelay",
		},
		// deliberately out of attachment order
		Peripherals: []Descriptor{
			{Kind: KindUSB, Name: "usb_ohci", Enabled: true, Params: USBHostParams{Pads: "usb", ClockDomain: "usb", IRQ: 16}},
			{Kind: KindGPIO, Name: "leds", Enabled: true, Params: LEDChaserParams{Pads: "user_led"}},
			{Kind: KindEthernet, Name: "ethphy", Enabled: true, Params: EthernetParams{
				PHY: "RGMII", ClockPads: "eth_clocks", Pads: "eth", Mode: EthernetMAC,
				LocalIP: "192.168.1.50", RemoteIP: "192.168.1.100", TimingConstraints: true,
			}},
			{Kind: KindSDCard, Name: "sdcard", Enabled: true, Params: SDCardParams{Pads: "sdcard"}},
			{Kind: KindMemory, Name: "sdram", Enabled: true, Params: SDRAMParams{
				Module: "MT41J128M16", PHY: "K7DDRPHY", Pads: "ddram", Size: 0x4000_0000, L2CacheSize: 8192,
			}},
			{Kind: KindI2C, Name: "i2c", Enabled: false, Params: I2CParams{Pads: "i2c"}},
		},
	}
}

func compose(t *testing.T, cfg Config) (*Design, *Builder, error) {
	t.Helper()
	b := NewBuilder(cfg, DefaultCatalog(), logr.Discard())
	d, err := b.Compose(context.Background())
	return d, b, err
}

func TestCompose(t *testing.T) {
	d, b, err := compose(t, testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, AddressesAssigned, b.Stage())

	var names []string
	for _, i := range d.Instances {
		names = append(names, i.Name)
	}
	want := []string{"ctrl", "cpu", "rom", "sram", "identifier", "uart", "timer0", "sdram", "sdcard", "ethphy", "leds", "usb_ohci"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("attachment order (-want +got):\n%s", diff)
	}

	wantRegions := map[string][2]uint64{
		"rom":           {0x0, 0x2_0000},
		"sram":          {0x1000_0000, 0x2000},
		"main_ram":      {0x4000_0000, 0x1000_0000},
		"usb_ohci_ctrl": {0xc000_0000, 0x10_0000},
		"csr":           {0xf000_0000, 0x1_0000},
		"ethmac":        {0x8000_0000, 0x2000},
	}
	require.Len(t, d.Regions, len(wantRegions))
	for name, w := range wantRegions {
		r, ok := d.Region(name)
		if assert.True(t, ok, name) {
			assert.Equal(t, w[0], r.Origin, name)
			assert.Equal(t, w[1], r.Size, name)
		}
	}

	assert.Equal(t, []IRQ{{"uart", 0}, {"timer0", 1}, {"sdcard", 2}, {"ethmac", 3}, {"usb_ohci", 16}}, d.IRQs)

	require.NotEmpty(t, d.CSRs)
	assert.Equal(t, CSRBank{Name: "ctrl", Index: 0, Origin: 0xf000_0000}, d.CSRs[0])
	assert.Equal(t, "leds", d.CSRs[len(d.CSRs)-1].Name)

	v, ok := d.Constant("CONFIG_CLOCK_FREQUENCY")
	assert.True(t, ok)
	assert.Equal(t, "100000000", v)
	v, _ = d.Constant("LOCALIP4")
	assert.Equal(t, "50", v)
	v, _ = d.Constant("L2_SIZE")
	assert.Equal(t, "8192", v)

	require.NotNil(t, d.SDRAM)
	assert.Equal(t, 16, d.SDRAM.Phy.Databits)

	assert.Contains(t, d.FalsePaths, clock.FalsePath{From: "sys_clk", To: "eth_rx_clk"})
	require.Len(t, d.Periods, 2)
	assert.Equal(t, "eth_clocks_rx", d.Periods[0].Port)
	assert.Equal(t, "8", d.Periods[0].PeriodNS.String())

	var dma []string
	for _, m := range d.Masters {
		if m.DMA {
			dma = append(dma, m.Name)
		}
	}
	assert.Equal(t, []string{"sdblock2mem", "sdmem2block", "usb_ohci_dma"}, dma)
}

func TestComposeFailures(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		kind   socerr.Kind
		stage  Stage
	}{
		"missing pads": {
			mutate: func(c *Config) {
				c.Peripherals = append(c.Peripherals, Descriptor{Kind: KindI2C, Name: "i2c0", Enabled: true, Params: I2CParams{Pads: "i2c"}})
			},
			kind: socerr.ResourceNotFound, stage: PinsResolved,
		},
		"pads requested twice": {
			mutate: func(c *Config) {
				c.Peripherals = append(c.Peripherals, Descriptor{Kind: KindGPIO, Name: "gpio", Enabled: true, Params: GPIOParams{Pads: "user_led"}})
			},
			kind: socerr.ResourceInUse, stage: PinsResolved,
		},
		"unreachable clock": {
			mutate: func(c *Config) { c.Clocking.PLLs[0].Outputs[3].Freq = 1_000_000 },
			kind:   socerr.ClockConfigError, stage: ClocksGenerated,
		},
		"missing usb domain": {
			mutate: func(c *Config) { c.Clocking.PLLs[0].Outputs = c.Clocking.PLLs[0].Outputs[:3] },
			kind:   socerr.ClockConfigError, stage: PeripheralsAttached,
		},
		"usb over main memory": {
			mutate: func(c *Config) { c.MemMap["usb_ohci"] = 0x4000_0000 },
			kind:   socerr.AddressConflictError, stage: AddressesAssigned,
		},
		"integrated main ram clashes with sdram": {
			mutate: func(c *Config) { c.IntegratedMainRAMSize = 0x1000 },
			kind:   socerr.AddressConflictError, stage: AddressesAssigned,
		},
		"dma without main memory": {
			mutate: func(c *Config) { c.Peripherals = c.Peripherals[:4] },
			kind:   socerr.ResourceNotFound, stage: AddressesAssigned,
		},
		"interrupt taken": {
			mutate: func(c *Config) {
				c.Peripherals[0].Params = USBHostParams{Pads: "usb", ClockDomain: "usb", IRQ: 0}
			},
			kind: socerr.ResourceInUse, stage: AddressesAssigned,
		},
		"unknown cpu": {
			mutate: func(c *Config) { c.CPU = "mor1kx" },
			kind:   socerr.InvalidOption, stage: Configured,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			c.mutate(&cfg)
			d, b, err := compose(t, cfg)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, c.kind)
			assert.Equal(t, Failed, b.Stage())
			assert.True(t, strings.HasPrefix(err.Error(), c.stage.String()+": "), err.Error())
		})
	}
}

func TestComposeCPUNoneSkipsInterrupts(t *testing.T) {
	cfg := testConfig(t)
	cfg.CPU = CPUNone
	cfg.IntegratedROMSize, cfg.IntegratedSRAMSize = 0, 0
	cfg.UART = UART{}
	cfg.MemMap = nil
	cfg.Peripherals = cfg.Peripherals[1:3]

	d, _, err := compose(t, cfg)
	require.NoError(t, err)
	assert.Empty(t, d.IRQs)
	csr, ok := d.Region("csr")
	require.True(t, ok)
	assert.Equal(t, uint64(0), csr.Origin)
	eth, ok := d.Region("ethmac")
	require.True(t, ok)
	assert.Equal(t, uint64(0x1_0000), eth.Origin)
}

func TestBuilderSingleUse(t *testing.T) {
	_, b, err := compose(t, testConfig(t))
	require.NoError(t, err)
	_, err = b.Compose(context.Background())
	assert.ErrorIs(t, err, socerr.InvalidOption)
}

type recorder struct{ stages []string }

func (r *recorder) ObserveStage(stage string, _ time.Duration, _ error) {
	r.stages = append(r.stages, stage)
}

func TestComposeObserver(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder(testConfig(t), DefaultCatalog(), logr.Discard(), WithObserver(rec))
	_, err := b.Compose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PinsResolved", "ClocksGenerated", "PeripheralsAttached", "AddressesAssigned"}, rec.stages)
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	b := NewBuilder(testConfig(t), DefaultCatalog(), logr.Discard())
	err := b.Advance(ctx, SettingsEmitted, noop)
	assert.ErrorIs(t, err, socerr.InvalidOption, "settings before composition")
	assert.Nil(t, b.Design())

	_, err = b.Compose(ctx)
	require.NoError(t, err)
	require.NotNil(t, b.Design())

	assert.ErrorIs(t, b.Advance(ctx, Loaded, noop), socerr.InvalidOption, "load before settings")
	require.NoError(t, b.Advance(ctx, SettingsEmitted, noop))
	assert.ErrorIs(t, b.Advance(ctx, SettingsEmitted, noop), socerr.InvalidOption, "settings twice")
	require.NoError(t, b.Advance(ctx, Loaded, noop))
	require.NoError(t, b.Advance(ctx, Flashed, noop))
	assert.Equal(t, Flashed, b.Stage())
}

func TestAdvanceFailure(t *testing.T) {
	ctx := context.Background()
	_, b, err := compose(t, testConfig(t))
	require.NoError(t, err)

	boom := socerr.New(socerr.ExternalToolFailure, "vivado", "exit status 1")
	err = b.Advance(ctx, SettingsEmitted, func(context.Context) error { return boom })
	require.ErrorIs(t, err, socerr.ExternalToolFailure)
	assert.Equal(t, Failed, b.Stage())
	assert.ErrorIs(t, b.Advance(ctx, Loaded, func(context.Context) error { return nil }), socerr.InvalidOption)
}
