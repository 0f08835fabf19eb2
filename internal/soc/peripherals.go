package soc

import (
	"net/netip"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/appkins-org/go-socbuild/internal/clock"
	"github.com/appkins-org/go-socbuild/internal/pinmap"
	"github.com/appkins-org/go-socbuild/internal/sdram"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// DefaultCatalog returns the factories for every built-in core.
func DefaultCatalog() Catalog {
	return Catalog{
		"sdram":    memoryFactory{},
		"hyperram": hyperRAMFactory{},
		"spiflash": spiFlashFactory{},
		"sdcard":   sdcardFactory{},
		"ethphy":   ethernetFactory{},
		"uartbone": uartboneFactory{},
		"jtagbone": jtagboneFactory{},
		"video":    videoFactory{},
		"i2c":      i2cFactory{},
		"gpio":     gpioFactory{},
		"leds":     ledChaserFactory{},
		"ws2812":   ws2812Factory{},
		"tieoff":   tieOffFactory{},
		"usb_ohci": usbHostFactory{},
	}
}

func params[T Params](d Descriptor) (T, error) {
	p, ok := d.Params.(T)
	if !ok {
		var zero T
		return zero, socerr.New(socerr.InvalidOption, d.Name, "unexpected parameters %T", d.Params)
	}
	return p, nil
}

func single(name string) []PadRequest { return []PadRequest{{Name: name}} }

func onePad(d Descriptor, pads []*pinmap.Signal) (*pinmap.Signal, error) {
	if len(pads) != 1 {
		return nil, socerr.New(socerr.ResourceNotFound, d.Name, "expected one pad group, got %d", len(pads))
	}
	return pads[0], nil
}

func requireSubs(owner string, s *pinmap.Signal, subs ...string) error {
	for _, sub := range subs {
		if !s.HasSub(sub) {
			return socerr.New(socerr.ResourceNotFound, owner, "pads %s have no %q subsignal", s, sub)
		}
	}
	return nil
}

// Memory controller.

var phyDomains = map[string][]string{
	"A7DDRPHY":  {"sys4x", "sys4x_dqs"},
	"K7DDRPHY":  {"sys4x"},
	"GW2DDRPHY": {"sys2x"},
	"USPDDRPHY": {"sys4x"},
}

var phyNeedsIODelay = map[string]bool{
	"A7DDRPHY":  true,
	"K7DDRPHY":  true,
	"USPDDRPHY": true,
}

type memoryFactory struct{}

func (memoryFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[SDRAMParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.Pads, Lanes: p.Lanes}}
}

func (memoryFactory) Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[SDRAMParams](d)
	if err != nil {
		return nil, err
	}
	if _, ok := sdram.LookupPHY(p.PHY); !ok {
		return nil, socerr.New(socerr.ResourceNotFound, p.PHY, "unknown memory PHY")
	}
	for _, dom := range phyDomains[p.PHY] {
		if err := env.RequireDomain(p.PHY, dom); err != nil {
			return nil, err
		}
	}
	if phyNeedsIODelay[p.PHY] && env.Clocks.IODelay == "" {
		return nil, socerr.New(socerr.ClockConfigError, p.PHY, "requires an IO delay reference clock")
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	if err := requireSubs(d.Name, pad, "dq"); err != nil {
		return nil, err
	}
	settings, err := sdram.Settings(p.Module, p.PHY, env.Config.SysClkFreq, sdram.Options{
		Databits:        pad.Width("dq"),
		SpeedGrade:      p.SpeedGrade,
		FineRefreshMode: p.FineRefreshMode,
		RttNom:          p.RttNom,
	})
	if err != nil {
		return nil, err
	}
	size, err := settings.Size()
	if err != nil {
		return nil, socerr.Wrap(socerr.InvalidOption, p.Module, err)
	}
	if p.Size > 0 && p.Size < size {
		size = p.Size
	}
	base, ok := env.MemMap["main_ram"]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, d.Name, "memory map has no main_ram")
	}
	env.Log.V(1).Info("sdram configured", "module", p.Module, "phy", p.PHY,
		"databits", settings.Phy.Databits, "cl", settings.Phy.CL, "size", size)

	inst := &Instance{
		Name:   d.Name,
		Kind:   KindMemory,
		Core:   p.Core(),
		Params: p,
		Pads:   padNames(pads),
		Slaves: []Slave{{Name: "main_ram", Origin: origin(base), Size: size, Cached: true}},
		CSRs:   []string{"ddrphy", "sdram"},
		SDRAM:  &settings,
	}
	if p.L2CacheSize > 0 {
		inst.Constants = append(inst.Constants, Constant{"L2_SIZE", strconv.Itoa(p.L2CacheSize)})
	}
	return []*Instance{inst}, nil
}

type hyperRAMFactory struct{}

func (hyperRAMFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[HyperRAMParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (hyperRAMFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[HyperRAMParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	if err := requireSubs(d.Name, pad, "dq", "rwds", "cs_n"); err != nil {
		return nil, err
	}
	return []*Instance{{
		Name:   d.Name,
		Kind:   KindMemory,
		Core:   p.Core(),
		Params: p,
		Pads:   padNames(pads),
		Slaves: []Slave{{Name: "hyperram", Origin: origin(p.Origin), Size: p.Size, Cached: true}},
	}}, nil
}

// Storage.

var flashSizes = map[string]uint64{
	"W25Q128JV": 16 << 20,
	"W25Q32JV":  4 << 20,
	"N25Q128A":  16 << 20,
}

type spiFlashFactory struct{}

func (spiFlashFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[SPIFlashParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (spiFlashFactory) Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[SPIFlashParams](d)
	if err != nil {
		return nil, err
	}
	size, ok := flashSizes[p.Module]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, p.Module, "unknown SPI flash module")
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	switch p.Mode {
	case "4x":
		if pad.Width("dq") != 4 {
			return nil, socerr.New(socerr.InvalidOption, d.Name, "4x mode needs 4 data pins on %s", pad)
		}
	case "1x":
		if err := requireSubs(d.Name, pad, "mosi", "miso"); err != nil {
			return nil, err
		}
	default:
		return nil, socerr.New(socerr.InvalidOption, d.Name, "unknown SPI flash mode %q", p.Mode)
	}
	slave := Slave{Name: d.Name, Size: size, Cached: true}
	if base, ok := env.MemMap[d.Name]; ok {
		slave.Origin = origin(base)
	}
	csrs := []string{d.Name + "_core", d.Name + "_phy"}
	if p.WithMaster {
		csrs = append(csrs, d.Name+"_master")
	}
	return []*Instance{{
		Name:   d.Name,
		Kind:   KindSPIFlash,
		Core:   p.Core(),
		Params: p,
		Pads:   padNames(pads),
		Slaves: []Slave{slave},
		CSRs:   csrs,
		Constants: []Constant{
			{"SPIFLASH_PHY_FREQUENCY", strconv.FormatInt(env.Config.SysClkFreq, 10)},
			{"SPIFLASH_MODULE_NAME", p.Module},
			{"SPIFLASH_MODULE_TOTAL_SIZE", strconv.FormatUint(size, 10)},
		},
	}}, nil
}

type sdcardFactory struct{}

func (sdcardFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[SDCardParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (sdcardFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[SDCardParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	inst := &Instance{Name: d.Name, Kind: KindSDCard, Core: p.Core(), Params: p, Pads: padNames(pads)}
	if p.SPI {
		if err := requireSubs(d.Name, pad, "clk", "mosi", "miso"); err != nil {
			return nil, err
		}
		inst.CSRs = []string{"spisdcard"}
		return []*Instance{inst}, nil
	}
	if err := requireSubs(d.Name, pad, "clk", "cmd", "data"); err != nil {
		return nil, err
	}
	inst.CSRs = []string{"sdcard_block2mem", "sdcard_core", "sdcard_irq", "sdcard_mem2block", "sdcard_phy"}
	inst.Masters = []Master{{Name: "sdblock2mem", DMA: true}, {Name: "sdmem2block", DMA: true}}
	inst.IRQ = &IRQRequest{Name: "sdcard", Line: -1}
	return []*Instance{inst}, nil
}

// Networking.

var phyRxClock = map[string]int64{
	"MII":   25_000_000,
	"RMII":  50_000_000,
	"RGMII": 125_000_000,
}

type ethernetFactory struct{}

func (ethernetFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[EthernetParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.ClockPads}, {Name: p.Pads}}
}

func ipConstants(prefix, addr string) ([]Constant, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return nil, socerr.New(socerr.InvalidOption, addr, "not an IPv4 address")
	}
	octets := ip.As4()
	out := make([]Constant, 0, len(octets))
	for i, o := range octets {
		out = append(out, Constant{prefix + strconv.Itoa(i+1), strconv.Itoa(int(o))})
	}
	return out, nil
}

func (ethernetFactory) Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[EthernetParams](d)
	if err != nil {
		return nil, err
	}
	rxFreq, ok := phyRxClock[p.PHY]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, p.PHY, "unknown Ethernet PHY")
	}
	if len(pads) != 2 {
		return nil, socerr.New(socerr.ResourceNotFound, d.Name, "expected clock and data pads")
	}
	clk := pads[0]
	inst := &Instance{
		Name:     d.Name,
		Kind:     KindEthernet,
		Core:     p.Core(),
		Params:   p,
		Pads:     padNames(pads),
		Commands: p.Commands,
	}

	switch p.Mode {
	case EthernetMAC:
		slave := Slave{Name: "ethmac", Size: 0x2000, Cached: false}
		if base, ok := env.MemMap["ethmac"]; ok {
			slave.Origin = origin(base)
		}
		inst.Slaves = []Slave{slave}
		inst.IRQ = &IRQRequest{Name: "ethmac", Line: -1}
		inst.CSRs = []string{"ethmac", "ethphy"}
		if p.DynamicIP {
			inst.Constants = append(inst.Constants, Constant{Name: "ETH_DYNAMIC_IP"})
			break
		}
		local, err := ipConstants("LOCALIP", p.LocalIP)
		if err != nil {
			return nil, err
		}
		remote, err := ipConstants("REMOTEIP", p.RemoteIP)
		if err != nil {
			return nil, err
		}
		inst.Constants = append(append(inst.Constants, local...), remote...)
	case Etherbone:
		if p.DynamicIP {
			return nil, socerr.New(socerr.MutuallyExclusiveOptionError, d.Name, "etherbone needs a static IP")
		}
		if _, err := ipConstants("", p.LocalIP); err != nil {
			return nil, err
		}
		inst.Masters = []Master{{Name: "etherbone"}}
		inst.CSRs = []string{"ethphy"}
	default:
		return nil, socerr.New(socerr.InvalidOption, d.Name, "unknown Ethernet mode %q", p.Mode)
	}

	if p.ResetTimeS != "" {
		t, err := decimal.NewFromString(p.ResetTimeS)
		if err != nil || t.Sign() < 0 {
			return nil, socerr.New(socerr.InvalidOption, d.Name, "invalid PHY reset time %q", p.ResetTimeS)
		}
		cycles := t.Mul(decimal.NewFromInt(env.Config.SysClkFreq)).Ceil().IntPart()
		inst.Constants = append(inst.Constants, Constant{"ETHPHY_HW_RESET_CYCLES", strconv.FormatInt(cycles, 10)})
	}

	if p.TimingConstraints {
		for _, dir := range []string{"rx", "tx"} {
			if !clk.HasSub(dir) {
				continue
			}
			net := "eth_" + dir + "_clk"
			inst.Periods = append(inst.Periods, clock.Period{
				Port:     clk.BaseName() + "_" + dir,
				Signal:   net,
				Freq:     rxFreq,
				PeriodNS: clock.Hz(rxFreq).Period(),
			})
			inst.FalsePaths = append(inst.FalsePaths, clock.FalsePath{From: clock.SysDomain + "_clk", To: net})
		}
	}
	return []*Instance{inst}, nil
}

type uartboneFactory struct{}

func (uartboneFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[UARTBoneParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.Pads, Index: p.Index}}
}

func (uartboneFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[UARTBoneParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	if err := requireSubs(d.Name, pad, "tx", "rx"); err != nil {
		return nil, err
	}
	if p.Baudrate <= 0 {
		return nil, socerr.New(socerr.InvalidOption, d.Name, "invalid baudrate %d", p.Baudrate)
	}
	return []*Instance{{
		Name:    d.Name,
		Kind:    KindBridge,
		Core:    p.Core(),
		Params:  p,
		Pads:    padNames(pads),
		Masters: []Master{{Name: d.Name}},
	}}, nil
}

type jtagboneFactory struct{}

func (jtagboneFactory) Pads(Descriptor) []PadRequest { return nil }

func (jtagboneFactory) Instantiate(_ Env, d Descriptor, _ []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[JTAGBoneParams](d)
	if err != nil {
		return nil, err
	}
	return []*Instance{{
		Name:    d.Name,
		Kind:    KindBridge,
		Core:    p.Core(),
		Params:  p,
		Masters: []Master{{Name: d.Name}},
	}}, nil
}

// Display.

type videoFactory struct{}

func (videoFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[VideoParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (videoFactory) Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[VideoParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	switch p.PHY {
	case "HDMI":
		if err := requireSubs(d.Name, pad, "clk_p", "data0_p"); err != nil {
			return nil, err
		}
	case "DVI":
	default:
		return nil, socerr.New(socerr.ResourceNotFound, p.PHY, "unknown video PHY")
	}
	if err := requireSubs(d.Name, pad, p.TieHigh...); err != nil {
		return nil, err
	}
	if err := env.RequireDomain(d.Name, p.ClockDomain); err != nil {
		return nil, err
	}
	if dom, _ := env.Clocks.Domain(p.ClockDomain); !dom.Freq.Within(p.Timings.PixClk, clock.DefaultMarginPPM) {
		env.Log.Info("video clock differs from the mode pixel clock",
			"domain", dom.String(), "pixClk", p.Timings.PixClk)
	}

	inst := &Instance{
		Name:        d.Name,
		Kind:        KindVideo,
		Core:        p.Core(),
		Params:      p,
		Pads:        padNames(pads),
		ClockDomain: p.ClockDomain,
	}
	switch p.Mode {
	case VideoColorbars, VideoTerminal:
	case VideoFramebuffer:
		base, ok := env.MemMap["video_framebuffer"]
		if !ok {
			return nil, socerr.New(socerr.ResourceNotFound, d.Name, "memory map has no video_framebuffer")
		}
		inst.Masters = []Master{{Name: "video_framebuffer", DMA: true}}
		inst.CSRs = []string{"video_framebuffer_vtg", "video_framebuffer"}
		inst.Buffers = []Region{{
			Name:   "video_framebuffer",
			Origin: base,
			Size:   uint64(p.Timings.HActive) * uint64(p.Timings.VActive) * 4,
			Owner:  d.Name,
		}}
		inst.Constants = []Constant{
			{"VIDEO_FRAMEBUFFER_BASE", "0x" + strconv.FormatUint(base, 16)},
			{"VIDEO_FRAMEBUFFER_HRES", strconv.Itoa(p.Timings.HActive)},
			{"VIDEO_FRAMEBUFFER_VRES", strconv.Itoa(p.Timings.VActive)},
			{"VIDEO_FRAMEBUFFER_DEPTH", "32"},
		}
	default:
		return nil, socerr.New(socerr.InvalidOption, d.Name, "unknown video mode %q", p.Mode)
	}
	return []*Instance{inst}, nil
}

// Low-speed I/O.

type i2cFactory struct{}

func (i2cFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[I2CParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.Pads, Index: p.Index}}
}

func (i2cFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[I2CParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	if err := requireSubs(d.Name, pad, "scl", "sda"); err != nil {
		return nil, err
	}
	return []*Instance{{Name: d.Name, Kind: KindI2C, Core: p.Core(), Params: p, Pads: padNames(pads), CSRs: []string{d.Name}}}, nil
}

type gpioFactory struct{}

func (gpioFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[GPIOParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.Pads, All: p.All}}
}

func (gpioFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[GPIOParams](d)
	if err != nil {
		return nil, err
	}
	if len(pads) == 0 {
		return nil, socerr.New(socerr.ResourceNotFound, p.Pads, "no GPIO pads")
	}
	return []*Instance{{Name: d.Name, Kind: KindGPIO, Core: p.Core(), Params: p, Pads: padNames(pads), CSRs: []string{d.Name}}}, nil
}

type ledChaserFactory struct{}

func (ledChaserFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[LEDChaserParams](d)
	if err != nil {
		return nil
	}
	return []PadRequest{{Name: p.Pads, All: true}}
}

func (ledChaserFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[LEDChaserParams](d)
	if err != nil {
		return nil, err
	}
	if len(pads) == 0 {
		return nil, socerr.New(socerr.ResourceNotFound, p.Pads, "no LED pads")
	}
	return []*Instance{{Name: d.Name, Kind: KindGPIO, Core: p.Core(), Params: p, Pads: padNames(pads), CSRs: []string{d.Name}}}, nil
}

type ws2812Factory struct{}

func (ws2812Factory) Pads(d Descriptor) []PadRequest {
	p, err := params[WS2812Params](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (ws2812Factory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[WS2812Params](d)
	if err != nil {
		return nil, err
	}
	if _, err := onePad(d, pads); err != nil {
		return nil, err
	}
	if p.NLeds <= 0 {
		return nil, socerr.New(socerr.InvalidOption, d.Name, "invalid LED count %d", p.NLeds)
	}
	return []*Instance{{
		Name:   d.Name,
		Kind:   KindGPIO,
		Core:   p.Core(),
		Params: p,
		Pads:   padNames(pads),
		Slaves: []Slave{{Name: d.Name, Origin: origin(p.Origin), Size: 4 * uint64(p.NLeds), Cached: true}},
	}}, nil
}

type tieOffFactory struct{}

func (tieOffFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[TieOffParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (tieOffFactory) Instantiate(_ Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[TieOffParams](d)
	if err != nil {
		return nil, err
	}
	pad, err := onePad(d, pads)
	if err != nil {
		return nil, err
	}
	for sub, v := range p.Values {
		width := len(pad.Pins)
		if sub != "" {
			if !pad.HasSub(sub) {
				return nil, socerr.New(socerr.ResourceNotFound, d.Name, "pads %s have no %q subsignal", pad, sub)
			}
			width = pad.Width(sub)
		}
		if width < 64 && v >= uint64(1)<<width {
			return nil, socerr.New(socerr.InvalidOption, d.Name, "value %#x does not fit %d pins", v, width)
		}
	}
	return []*Instance{{Name: d.Name, Kind: KindGPIO, Core: p.Core(), Params: p, Pads: padNames(pads)}}, nil
}

// USB.

const usbClockPPM = 2_500

type usbHostFactory struct{}

func (usbHostFactory) Pads(d Descriptor) []PadRequest {
	p, err := params[USBHostParams](d)
	if err != nil {
		return nil
	}
	return single(p.Pads)
}

func (usbHostFactory) Instantiate(env Env, d Descriptor, pads []*pinmap.Signal) ([]*Instance, error) {
	p, err := params[USBHostParams](d)
	if err != nil {
		return nil, err
	}
	if _, err := onePad(d, pads); err != nil {
		return nil, err
	}
	if err := env.RequireDomain(d.Name, p.ClockDomain); err != nil {
		return nil, err
	}
	if dom, _ := env.Clocks.Domain(p.ClockDomain); !dom.Freq.Within(48_000_000, usbClockPPM) {
		return nil, socerr.New(socerr.ClockConfigError, d.Name, "USB needs 48MHz, %s runs at %s", dom.Name, dom.Freq)
	}
	slave := Slave{Name: d.Name + "_ctrl", Size: 0x10_0000, Cached: false}
	if base, ok := env.MemMap[d.Name]; ok {
		slave.Origin = origin(base)
	}
	return []*Instance{{
		Name:        d.Name,
		Kind:        KindUSB,
		Core:        p.Core(),
		Params:      p,
		Pads:        padNames(pads),
		ClockDomain: p.ClockDomain,
		Slaves:      []Slave{slave},
		Masters:     []Master{{Name: d.Name + "_dma", DMA: true}},
		IRQ:         &IRQRequest{Name: d.Name, Line: p.IRQ},
	}}, nil
}
