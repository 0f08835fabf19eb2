package soc

// Kind classifies a peripheral and fixes its attachment rank.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSPIFlash Kind = "spi_flash"
	KindSDCard   Kind = "sdcard"
	KindEthernet Kind = "ethernet"
	KindBridge   Kind = "bridge"
	KindVideo    Kind = "video"
	KindI2C      Kind = "i2c"
	KindGPIO     Kind = "gpio"
	KindUSB      Kind = "usb"
)

var ranks = map[Kind]int{
	KindMemory:   0,
	KindSPIFlash: 1,
	KindSDCard:   1,
	KindEthernet: 2,
	KindBridge:   2,
	KindVideo:    3,
	KindI2C:      4,
	KindGPIO:     4,
	KindUSB:      5,
}

// Rank orders attachment: memory, storage, networking, display, low-speed
// I/O, USB. Unknown kinds sort last.
func (k Kind) Rank() int {
	if r, ok := ranks[k]; ok {
		return r
	}
	return len(ranks)
}

// Descriptor declares a peripheral to attach.
type Descriptor struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Params  Params `json:"params"`
}

// Params is the kind specific payload of a Descriptor. Core names the
// factory that builds it.
type Params interface {
	Core() string
}

type SDRAMParams struct {
	Module string `json:"module"`
	PHY    string `json:"phy"`
	Pads   string `json:"pads"`
	// Lanes keeps a subset of the DDR byte lanes when set.
	Lanes           []int  `json:"lanes,omitempty"`
	Size            uint64 `json:"size"`
	L2CacheSize     int    `json:"l2_cache_size"`
	SpeedGrade      string `json:"speedgrade,omitempty"`
	FineRefreshMode string `json:"fine_refresh_mode,omitempty"`
	RttNom          string `json:"rtt_nom,omitempty"`
}

func (SDRAMParams) Core() string { return "sdram" }

type HyperRAMParams struct {
	Pads   string `json:"pads"`
	Origin uint64 `json:"origin"`
	Size   uint64 `json:"size"`
}

func (HyperRAMParams) Core() string { return "hyperram" }

type SPIFlashParams struct {
	Pads   string `json:"pads"`
	Module string `json:"module"`
	// Mode is "1x" or "4x".
	Mode       string `json:"mode"`
	Rate       string `json:"rate"`
	WithMaster bool   `json:"with_master"`
}

func (SPIFlashParams) Core() string { return "spiflash" }

type SDCardParams struct {
	Pads string `json:"pads"`
	// SPI selects the SPI-mode core, which has no DMA.
	SPI bool `json:"spi"`
}

func (SDCardParams) Core() string { return "sdcard" }

// Ethernet modes.
const (
	EthernetMAC = "ethernet"
	Etherbone   = "etherbone"
)

type EthernetParams struct {
	PHY        string `json:"phy"`
	ClockPads  string `json:"clock_pads"`
	Pads       string `json:"pads"`
	Mode       string `json:"mode"`
	LocalIP    string `json:"local_ip"`
	RemoteIP   string `json:"remote_ip"`
	DynamicIP  bool   `json:"dynamic_ip"`
	RxDelayPS  int    `json:"rx_delay_ps,omitempty"`
	ResetTimeS string `json:"reset_time,omitempty"`
	// TimingConstraints adds period constraints on the PHY clocks.
	TimingConstraints bool     `json:"timing_constraints"`
	Commands          []string `json:"commands,omitempty"`
}

func (EthernetParams) Core() string { return "ethphy" }

type UARTBoneParams struct {
	Pads     string `json:"pads"`
	Index    int    `json:"index"`
	Baudrate int    `json:"baudrate"`
}

func (UARTBoneParams) Core() string { return "uartbone" }

type JTAGBoneParams struct{}

func (JTAGBoneParams) Core() string { return "jtagbone" }

// Video modes.
const (
	VideoFramebuffer = "framebuffer"
	VideoColorbars   = "colorbars"
	VideoTerminal    = "terminal"
)

type VideoTimings struct {
	PixClk      int64 `json:"pix_clk"`
	HActive     int   `json:"h_active"`
	HBlanking   int   `json:"h_blanking"`
	HSyncOffset int   `json:"h_sync_offset"`
	HSyncWidth  int   `json:"h_sync_width"`
	VActive     int   `json:"v_active"`
	VBlanking   int   `json:"v_blanking"`
	VSyncOffset int   `json:"v_sync_offset"`
	VSyncWidth  int   `json:"v_sync_width"`
}

// VideoTimingPresets are the named video modes.
var VideoTimingPresets = map[string]VideoTimings{
	"640x480@60Hz":   {25_175_000, 640, 160, 16, 96, 480, 45, 10, 2},
	"640x480@75Hz":   {31_500_000, 640, 200, 16, 64, 480, 20, 1, 3},
	"800x600@60Hz":   {40_000_000, 800, 256, 40, 128, 600, 28, 1, 4},
	"1280x720@60Hz":  {74_250_000, 1280, 370, 220, 40, 720, 30, 5, 5},
	"1920x1080@60Hz": {148_500_000, 1920, 280, 88, 44, 1080, 45, 4, 5},
}

type VideoParams struct {
	// PHY is "DVI" or "HDMI".
	PHY         string       `json:"phy"`
	Pads        string       `json:"pads"`
	ClockDomain string       `json:"clock_domain"`
	Mode        string       `json:"mode"`
	Timings     VideoTimings `json:"timings"`
	// TieHigh lists pad subsignals driven high, e.g. hot plug detect.
	TieHigh []string `json:"tie_high,omitempty"`
}

func (VideoParams) Core() string { return "video" }

type I2CParams struct {
	Pads  string `json:"pads"`
	Index int    `json:"index"`
}

func (I2CParams) Core() string { return "i2c" }

type GPIOParams struct {
	Pads string `json:"pads"`
	// Output selects a GPIOOut core, otherwise GPIOIn.
	Output bool `json:"output"`
	// All requests every instance of Pads.
	All    bool `json:"all"`
	Invert bool `json:"invert,omitempty"`
}

func (GPIOParams) Core() string { return "gpio" }

type LEDChaserParams struct {
	Pads string `json:"pads"`
}

func (LEDChaserParams) Core() string { return "leds" }

type WS2812Params struct {
	Pads   string `json:"pads"`
	NLeds  int    `json:"nleds"`
	Origin uint64 `json:"origin"`
}

func (WS2812Params) Core() string { return "ws2812" }

type TieOffParams struct {
	Pads string `json:"pads"`
	// Values drives each subsignal with a constant.
	Values map[string]uint64 `json:"values"`
}

func (TieOffParams) Core() string { return "tieoff" }

type USBHostParams struct {
	Pads        string `json:"pads"`
	ClockDomain string `json:"clock_domain"`
	IRQ         int    `json:"irq"`
}

func (USBHostParams) Core() string { return "usb_ohci" }
