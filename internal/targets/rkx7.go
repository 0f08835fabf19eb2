package targets

import (
	"fmt"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
)

// eDP panel timings, driven through the DVI encoder. HBlanking is one short
// of the panel's 160 to match the timing generator.
var rkx7Panel = soc.VideoTimings{
	PixClk:      162_000_000,
	HActive:     1920,
	HBlanking:   159,
	HSyncOffset: 40,
	HSyncWidth:  40,
	VActive:     1080,
	VBlanking:   32,
	VSyncOffset: 4,
	VSyncWidth:  4,
}

func rkx7() *Target {
	d := DefaultOptions()
	d.WithSPIFlash = true
	d.WithEthernet = true
	d.EthDynamicIP = true
	d.WithSDCard = true
	return &Target{
		Name:        "mnt_rkx7",
		Board:       "mnt_rkx7",
		Description: "MNT RKX7 laptop SoC: DDR3, SPI flash, Ethernet, SDCard, eDP framebuffer",
		Features:    FeatEthernet | FeatSDCard | FeatSPIFlash | FeatUSBHost,
		Defaults:    d,
		Plan:        rkx7Plan,
	}
}

func rkx7Plan(b *boards.Board, o *Options) (soc.Config, error) {
	cfg, sys, err := base("mnt_rkx7", b, o)
	if err != nil {
		return cfg, err
	}
	cfg.MemMap = map[string]uint64{
		"video_framebuffer": 0x7f00_0000,
		"usb_ohci":          0xc000_0000,
	}

	pll := boardPLL(b,
		clock.Output{Domain: clock.SysDomain, Freq: sys},
		clock.Output{Domain: "sys4x", Freq: 4 * sys, ResetLess: true},
		clock.Output{Domain: "idelay", Freq: 200_000_000},
		clock.Output{Domain: "usb", Freq: 48_000_000},
	)
	dvi := boardPLL(b, clock.Output{Domain: "dvi", Freq: 80_000_000, ResetLess: true})
	dvi.Name = "dvi_pll"
	cfg.Clocking = clock.Spec{
		Sources: []clock.Source{b.ClockSource()},
		PLLs:    []clock.PLLSpec{pll, dvi},
		IODelay: "idelay",
	}

	cfg.Peripherals = []soc.Descriptor{
		enabled(soc.KindMemory, "sdram", soc.SDRAMParams{
			Module:      "IS43TR16512B",
			PHY:         "K7DDRPHY",
			Pads:        "ddram",
			Size:        0x4000_0000,
			L2CacheSize: o.L2Size,
		}),
		when(o.WithSPIFlash, soc.KindSPIFlash, "spiflash", soc.SPIFlashParams{
			Pads:       "spiflash4x",
			Module:     "W25Q128JV",
			Mode:       "4x",
			Rate:       "1:1",
			WithMaster: true,
		}),
		sdcard(o, "sdcard", "spisdcard"),
		ethernet(o, soc.EthernetParams{
			PHY:               "RGMII",
			ClockPads:         "eth_clocks",
			Pads:              "eth",
			TimingConstraints: true,
			Commands: []string{
				// RX clock input buffer as the netlist generator names it,
				// under the plain and the linux variant top level
				"set_property CLOCK_DEDICATED_ROUTE FALSE [get_nets {main_ethphy_eth_rx_clk_ibuf}]",
				"set_property CLOCK_DEDICATED_ROUTE FALSE [get_nets {soclinux_ethphy_eth_rx_clk_ibuf}]",
			},
		}),
		enabled(soc.KindGPIO, "resets", soc.TieOffParams{Pads: "resets", Values: map[string]uint64{"": 0b111111}}),
		enabled(soc.KindGPIO, "leds", soc.GPIOParams{Pads: "gpio", Output: true}),
		enabled(soc.KindGPIO, "backlight", soc.TieOffParams{Pads: "backlight", Values: map[string]uint64{"en": 1, "pwm": 1}}),
		enabled(soc.KindVideo, "edp", soc.VideoParams{
			PHY:         "DVI",
			Pads:        "edp",
			ClockDomain: "dvi",
			Mode:        soc.VideoFramebuffer,
			Timings:     rkx7Panel,
		}),
		enabled(soc.KindBridge, "uartbone", soc.UARTBoneParams{Pads: "litescope_serial", Baudrate: 115200}),
		when(o.WithUSBHost, soc.KindUSB, "usb_ohci", soc.USBHostParams{Pads: "usb", ClockDomain: "usb", IRQ: 16}),
	}
	for i := range 3 {
		cfg.Peripherals = append(cfg.Peripherals,
			enabled(soc.KindI2C, fmt.Sprintf("i2c%d", i), soc.I2CParams{Pads: "i2c", Index: i}))
	}
	return cfg, nil
}
