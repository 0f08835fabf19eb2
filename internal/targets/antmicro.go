package targets

import (
	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
)

func antmicroDDR4() *Target {
	d := DefaultOptions()
	d.EthResetTime = "10e-3"
	return &Target{
		Name:        "antmicro_datacenter_ddr4_test_board",
		Board:       "antmicro_datacenter_ddr4_test_board",
		Description: "DDR4 RDIMM test SoC with optional HyperRAM, SDCard and Ethernet",
		Features: FeatFlash | FeatEthernet | FeatEthResetTime | FeatSDCard | FeatHyperRAM |
			FeatJTAGBone | FeatUARTBone | FeatLEDs | FeatIODelay,
		Defaults: d,
		Plan:     antmicroPlan,
	}
}

func antmicroPlan(b *boards.Board, o *Options) (soc.Config, error) {
	cfg, sys, err := base("antmicro_datacenter_ddr4_test_board", b, o)
	if err != nil {
		return cfg, err
	}
	idelay, err := parseFreq("--iodelay-clk-freq", o.IODelayClkFreq)
	if err != nil {
		return cfg, err
	}
	cfg.Clocking = clock.Spec{
		Sources: []clock.Source{b.ClockSource()},
		PLLs: []clock.PLLSpec{boardPLL(b,
			clock.Output{Domain: clock.SysDomain, Freq: sys},
			clock.Output{Domain: "sys2x", Freq: 2 * sys, ResetLess: true},
			clock.Output{Domain: "sys4x", Freq: 4 * sys, ResetLess: true},
			clock.Output{Domain: "sys4x_dqs", Freq: 4 * sys, Phase: 90, ResetLess: true},
			clock.Output{Domain: "idelay", Freq: idelay},
		)},
		IODelay: "idelay",
	}
	cfg.Peripherals = []soc.Descriptor{
		enabled(soc.KindMemory, "sdram", soc.SDRAMParams{
			Module:      "MTA18ASF2G72PZ",
			PHY:         "A7DDRPHY",
			Pads:        "ddr4",
			Size:        0x4000_0000,
			L2CacheSize: o.L2Size,
		}),
		when(o.WithHyperRAM, soc.KindMemory, "hyperram", soc.HyperRAMParams{
			Pads:   "hyperram",
			Origin: 0x2000_0000,
			Size:   8 << 20,
		}),
		sdcard(o, "sdcard", ""),
		ethernet(o, soc.EthernetParams{
			PHY:               "RGMII",
			ClockPads:         "eth_clocks",
			Pads:              "eth",
			RxDelayPS:         800,
			ResetTimeS:        o.EthResetTime,
			TimingConstraints: true,
		}),
		when(o.WithJTAGBone, soc.KindBridge, "jtagbone", soc.JTAGBoneParams{}),
		when(o.WithUARTBone, soc.KindBridge, "uartbone", soc.UARTBoneParams{Pads: "serial", Index: 1, Baudrate: 1_000_000}),
		when(o.WithLEDChaser, soc.KindGPIO, "leds", soc.LEDChaserParams{Pads: "user_led"}),
		enabled(soc.KindI2C, "i2c", soc.I2CParams{Pads: "i2c"}),
	}
	return cfg, nil
}
