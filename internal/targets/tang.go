package targets

import (
	"github.com/shopspring/decimal"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
)

func tangPrimer20K() *Target {
	d := DefaultOptions()
	d.SysClkFreq = "48e6"
	d.L2Size = 0
	d.WithButtons = true
	return &Target{
		Name:        "sipeed_tang_primer_20k",
		Board:       "sipeed_tang_primer_20k",
		Description: "Sipeed Tang Primer 20K SoC with DDR3 and an optional HDMI terminal",
		Features: FeatFlash | FeatDock | FeatEthernet | FeatSDCard | FeatSPIFlash |
			FeatVideo | FeatLEDs | FeatRGBLed | FeatButtons,
		Defaults: d,
		Plan:     tangPlan,
	}
}

func tangPlan(b *boards.Board, o *Options) (soc.Config, error) {
	cfg, sys, err := base("sipeed_tang_primer_20k", b, o)
	if err != nil {
		return cfg, err
	}
	video := o.WithVideoTerminal || o.WithVideoColorbar

	// the GW2A PLL has a single output: sys is divided down from sys2x
	cfg.Clocking = clock.Spec{
		Sources: []clock.Source{b.ClockSource()},
		PLLs:    []clock.PLLSpec{boardPLL(b, clock.Output{Domain: "sys2x", Freq: 2 * sys})},
		Derived: []clock.Derived{{
			Domain:    clock.SysDomain,
			From:      "sys2x",
			Primitive: clock.CLKDIV,
			Divide:    decimal.NewFromInt(2),
		}},
	}
	if video {
		vpll := boardPLL(b, clock.Output{Domain: "hdmi5x", Freq: 125_000_000, ResetLess: true})
		vpll.Name = "video_pll"
		cfg.Clocking.PLLs = append(cfg.Clocking.PLLs, vpll)
		cfg.Clocking.Derived = append(cfg.Clocking.Derived, clock.Derived{
			Domain:    "hdmi",
			From:      "hdmi5x",
			Primitive: clock.CLKDIV,
			Divide:    decimal.NewFromInt(5),
			ResetLess: true,
		})
	}

	mode := soc.VideoTerminal
	if o.WithVideoColorbar {
		mode = soc.VideoColorbars
	}
	cfg.Peripherals = []soc.Descriptor{
		enabled(soc.KindMemory, "sdram", soc.SDRAMParams{
			Module:      "MT41J128M16",
			PHY:         "GW2DDRPHY",
			Pads:        "ddram",
			Lanes:       []int{0, 1},
			L2CacheSize: o.L2Size,
			RttNom:      "disabled",
		}),
		when(o.WithSPIFlash, soc.KindSPIFlash, "spiflash", soc.SPIFlashParams{
			Pads:   "spiflash",
			Module: "W25Q32JV",
			Mode:   "1x",
			Rate:   "1:1",
		}),
		sdcard(o, "sdcard", "spisdcard"),
		ethernet(o, soc.EthernetParams{
			PHY:       "RMII",
			ClockPads: "eth_clocks",
			Pads:      "eth",
		}),
		when(video, soc.KindVideo, "hdmi", soc.VideoParams{
			PHY:         "HDMI",
			Pads:        "hdmi",
			ClockDomain: "hdmi",
			Mode:        mode,
			Timings:     soc.VideoTimingPresets["640x480@60Hz"],
			TieHigh:     []string{"hdp"},
		}),
		// the lite dock has no LEDs
		when(o.WithLEDChaser && b.Pins.Has("led"), soc.KindGPIO, "leds", soc.LEDChaserParams{Pads: "led"}),
		when(o.WithRGBLed && b.Pins.Has("rgb_led"), soc.KindGPIO, "rgb_led", soc.WS2812Params{
			Pads:   "rgb_led",
			NLeds:  1,
			Origin: 0x2000_0000,
		}),
		when(o.WithButtons, soc.KindGPIO, "buttons", soc.GPIOParams{Pads: "btn_n", All: true, Invert: true}),
	}
	return cfg, nil
}
