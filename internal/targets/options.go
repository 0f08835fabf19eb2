package targets

import (
	"github.com/spf13/pflag"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Feature selects the optional flags a target exposes.
type Feature uint32

const (
	FeatFlash Feature = 1 << iota
	FeatEthernet
	FeatEthResetTime
	FeatSDCard
	FeatSPIFlash
	FeatUSBHost
	FeatHyperRAM
	FeatJTAGBone
	FeatUARTBone
	FeatVideo
	FeatLEDs
	FeatRGBLed
	FeatButtons
	FeatDock
	FeatBoard
	FeatVariant
	FeatPreset
	FeatIODelay
)

// Has reports whether every feature in x is set.
func (f Feature) Has(x Feature) bool { return f&x == x }

// Options are the command line choices of one target run.
type Options struct {
	Build bool
	Load  bool
	Flash bool

	SysClkFreq string
	CPU        string
	CPUVariant string
	// UARTName is "serial", "crossover" or "none".
	UARTName     string
	UARTBaudrate int

	IntegratedROMSize     uint64
	IntegratedSRAMSize    uint64
	IntegratedMainRAMSize uint64
	L2Size                int

	Board          string
	Variant        string
	Preset         string
	IODelayClkFreq string

	WithEthernet  bool
	WithEtherbone bool
	EthDynamicIP  bool
	EthIP         string
	RemoteIP      string
	EthResetTime  string

	WithSDCard        bool
	WithSPISDCard     bool
	WithSPIFlash      bool
	WithUSBHost       bool
	WithHyperRAM      bool
	WithJTAGBone      bool
	WithUARTBone      bool
	WithVideoTerminal bool
	WithVideoColorbar bool
	WithLEDChaser     bool
	WithRGBLed        bool
	WithButtons       bool

	flags *pflag.FlagSet
}

// DefaultOptions returns the values shared by every target.
func DefaultOptions() Options {
	return Options{
		SysClkFreq:     "100e6",
		CPU:            soc.CPUVexRiscv,
		UARTName:       "serial",
		UARTBaudrate:   115200,
		L2Size:         8192,
		EthIP:          "192.168.1.50",
		RemoteIP:       "192.168.1.100",
		IODelayClkFreq: "200e6",
		WithLEDChaser:  true,
	}
}

// Bind registers the flags of features on fs, initialised from defaults,
// and returns the options they fill.
func Bind(fs *pflag.FlagSet, features Feature, defaults Options) *Options {
	o := defaults
	o.flags = fs

	fs.BoolVar(&o.Build, "build", o.Build, "Build the bitstream")
	fs.BoolVar(&o.Load, "load", o.Load, "Load the bitstream into the FPGA")
	fs.StringVar(&o.SysClkFreq, "sys-clk-freq", o.SysClkFreq, "System clock frequency")
	fs.StringVar(&o.CPU, "cpu-type", o.CPU, "CPU type")
	fs.StringVar(&o.CPUVariant, "cpu-variant", o.CPUVariant, "CPU variant")
	fs.StringVar(&o.UARTName, "uart-name", o.UARTName, "UART type: serial, crossover or none")
	fs.IntVar(&o.UARTBaudrate, "uart-baudrate", o.UARTBaudrate, "UART baudrate")
	fs.Uint64Var(&o.IntegratedROMSize, "integrated-rom-size", o.IntegratedROMSize, "Integrated ROM size (default: cpu)")
	fs.Uint64Var(&o.IntegratedSRAMSize, "integrated-sram-size", o.IntegratedSRAMSize, "Integrated SRAM size (default: cpu)")
	fs.Uint64Var(&o.IntegratedMainRAMSize, "integrated-main-ram-size", o.IntegratedMainRAMSize, "Integrated main RAM size")
	fs.IntVar(&o.L2Size, "l2-size", o.L2Size, "L2 cache size in bytes")

	if features.Has(FeatFlash) {
		fs.BoolVar(&o.Flash, "flash", o.Flash, "Flash the bitstream")
	}
	if features.Has(FeatBoard) {
		fs.StringVar(&o.Board, "board", o.Board, "Board id")
	}
	if features.Has(FeatDock) {
		fs.StringVar(&o.Variant, "dock", o.Variant, "Dock variant")
	}
	if features.Has(FeatVariant) {
		fs.StringVar(&o.Variant, "variant", o.Variant, "Board variant")
	}
	if features.Has(FeatPreset) {
		fs.StringVar(&o.Preset, "preset", o.Preset, "Processing system preset XML")
	}
	if features.Has(FeatIODelay) {
		fs.StringVar(&o.IODelayClkFreq, "iodelay-clk-freq", o.IODelayClkFreq, "IDELAYCTRL reference frequency")
	}
	if features.Has(FeatEthernet) {
		fs.BoolVar(&o.WithEthernet, "with-ethernet", o.WithEthernet, "Enable Ethernet support")
		fs.BoolVar(&o.WithEtherbone, "with-etherbone", o.WithEtherbone, "Enable Etherbone support")
		fs.StringVar(&o.EthIP, "eth-ip", o.EthIP, "Ethernet/Etherbone IP address")
		fs.StringVar(&o.RemoteIP, "remote-ip", o.RemoteIP, "Remote IP address of the TFTP server")
		fs.BoolVar(&o.EthDynamicIP, "eth-dynamic-ip", o.EthDynamicIP, "Enable dynamic Ethernet IP address setting")
	}
	if features.Has(FeatEthResetTime) {
		fs.StringVar(&o.EthResetTime, "eth-reset-time", o.EthResetTime, "Duration of the Ethernet PHY reset in seconds")
	}
	if features.Has(FeatSDCard) {
		fs.BoolVar(&o.WithSDCard, "with-sdcard", o.WithSDCard, "Enable SDCard support")
		fs.BoolVar(&o.WithSPISDCard, "with-spi-sdcard", o.WithSPISDCard, "Enable SPI-mode SDCard support")
	}
	if features.Has(FeatSPIFlash) {
		fs.BoolVar(&o.WithSPIFlash, "with-spi-flash", o.WithSPIFlash, "Enable SPI Flash (MMAPed)")
	}
	if features.Has(FeatUSBHost) {
		fs.BoolVar(&o.WithUSBHost, "with-usb-host", o.WithUSBHost, "Enable USB host support")
	}
	if features.Has(FeatHyperRAM) {
		fs.BoolVar(&o.WithHyperRAM, "with-hyperram", o.WithHyperRAM, "Add HyperRAM")
	}
	if features.Has(FeatJTAGBone) {
		fs.BoolVar(&o.WithJTAGBone, "with-jtagbone", o.WithJTAGBone, "Add JTAGBone")
	}
	if features.Has(FeatUARTBone) {
		fs.BoolVar(&o.WithUARTBone, "with-uartbone", o.WithUARTBone, "Add UARTBone on the second serial port")
	}
	if features.Has(FeatVideo) {
		fs.BoolVar(&o.WithVideoTerminal, "with-video-terminal", o.WithVideoTerminal, "Enable the video terminal")
		fs.BoolVar(&o.WithVideoColorbar, "with-video-colorbars", o.WithVideoColorbar, "Enable the video color bars")
	}
	if features.Has(FeatLEDs) {
		fs.BoolVar(&o.WithLEDChaser, "with-led-chaser", o.WithLEDChaser, "Enable the LED chaser")
	}
	if features.Has(FeatRGBLed) {
		fs.BoolVar(&o.WithRGBLed, "with-rgb-led", o.WithRGBLed, "Enable the WS2812 RGB LED")
	}
	if features.Has(FeatButtons) {
		fs.BoolVar(&o.WithButtons, "with-buttons", o.WithButtons, "Enable the buttons")
	}
	return &o
}

func (o *Options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

type exclusive struct {
	a, b   string
	av, bv *bool
}

// Validate checks the options before anything is attached. Two options of a
// mutually exclusive pair are rejected when both are given; a pair member
// enabled only by a target default yields to an explicit choice of the
// other.
func (o *Options) Validate() error {
	pairs := []exclusive{
		{"with-ethernet", "with-etherbone", &o.WithEthernet, &o.WithEtherbone},
		{"with-sdcard", "with-spi-sdcard", &o.WithSDCard, &o.WithSPISDCard},
		{"with-etherbone", "eth-dynamic-ip", &o.WithEtherbone, &o.EthDynamicIP},
		{"with-video-terminal", "with-video-colorbars", &o.WithVideoTerminal, &o.WithVideoColorbar},
	}
	for _, p := range pairs {
		if !*p.av || !*p.bv {
			continue
		}
		switch ca, cb := o.changed(p.a), o.changed(p.b); {
		case ca && !cb:
			*p.bv = false
		case cb && !ca:
			*p.av = false
		default:
			return socerr.New(socerr.MutuallyExclusiveOptionError, "--"+p.a,
				"--%s and --%s are mutually exclusive", p.a, p.b)
		}
	}

	switch o.UARTName {
	case "serial", "crossover", "none", "":
	default:
		return socerr.New(socerr.InvalidOption, "--uart-name", "unknown UART %q", o.UARTName)
	}
	if o.UARTBaudrate <= 0 {
		return socerr.New(socerr.InvalidOption, "--uart-baudrate", "invalid baudrate %d", o.UARTBaudrate)
	}
	if _, err := soc.LookupCPU(o.CPU); err != nil {
		return err
	}
	if o.SysClkFreq != "" {
		if _, err := o.SysClk(); err != nil {
			return err
		}
	}
	if o.L2Size < 0 {
		return socerr.New(socerr.InvalidOption, "--l2-size", "invalid L2 size %d", o.L2Size)
	}
	return nil
}

// SysClk parses --sys-clk-freq into Hz.
func (o *Options) SysClk() (int64, error) {
	return parseFreq("--sys-clk-freq", o.SysClkFreq)
}

func parseFreq(flag, s string) (int64, error) {
	f, err := clock.ParseFrequency(s)
	if err != nil {
		return 0, socerr.Wrap(socerr.InvalidOption, flag, err)
	}
	return f, nil
}

// size returns the flag value when given on the command line, def otherwise.
func (o *Options) size(flag string, v, def uint64) uint64 {
	if o.changed(flag) {
		return v
	}
	return def
}
