package soc

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

func vexBus() *Bus {
	cpu, _ := LookupCPU(CPUVexRiscv)
	return NewBus(32, cpu.IORegions)
}

func TestBusScenarios(t *testing.T) {
	t.Run("memory above the peripheral window", func(t *testing.T) {
		b := vexBus()
		require.NoError(t, b.AddRegion(Region{Name: "main_ram", Origin: 0x4000_0000, Size: 0x4000_0000, Cached: true}))
		require.NoError(t, b.AddRegion(Region{Name: "usb_ohci_ctrl", Origin: 0x2000_0000, Size: 0x10_0000, Cached: true}))

		regions := b.Regions()
		require.Len(t, regions, 2)
		assert.Equal(t, "main_ram", regions[0].Name)
		assert.Equal(t, "usb_ohci_ctrl", regions[1].Name)
	})

	t.Run("window inside memory", func(t *testing.T) {
		b := vexBus()
		require.NoError(t, b.AddRegion(Region{Name: "main_ram", Origin: 0, Size: 0x4000_0000, Cached: true}))

		err := b.AddRegion(Region{Name: "usb_ohci_ctrl", Origin: 0x2000_0000, Size: 0x20_0000, Cached: true})
		assert.ErrorIs(t, err, socerr.AddressConflictError)
		err = b.AddRegion(Region{Name: "csr_window", Origin: 0x1000_0000, Size: 0x1000, Cached: true})
		assert.ErrorIs(t, err, socerr.AddressConflictError)
		assert.Len(t, b.Regions(), 1)
	})

	t.Run("adjacent regions", func(t *testing.T) {
		b := vexBus()
		require.NoError(t, b.AddRegion(Region{Name: "a", Origin: 0, Size: 0x1000, Cached: true}))
		require.NoError(t, b.AddRegion(Region{Name: "b", Origin: 0x1000, Size: 0x1000, Cached: true}))
	})
}

func TestBusIORules(t *testing.T) {
	b := vexBus()

	err := b.AddRegion(Region{Name: "uncached_low", Origin: 0x2000_0000, Size: 0x100})
	assert.ErrorIs(t, err, socerr.AddressConflictError)

	err = b.AddRegion(Region{Name: "cached_io", Origin: 0x9000_0000, Size: 0x100, Cached: true})
	assert.ErrorIs(t, err, socerr.AddressConflictError)

	err = b.AddRegion(Region{Name: "straddle", Origin: 0x7fff_f000, Size: 0x2000, Cached: true})
	assert.ErrorIs(t, err, socerr.AddressConflictError)

	require.NoError(t, b.AddRegion(Region{Name: "csr", Origin: 0xf000_0000, Size: 0x1_0000}))

	err = b.AddRegion(Region{Name: "csr", Origin: 0xe000_0000, Size: 0x1_0000})
	assert.ErrorIs(t, err, socerr.AddressConflictError, "duplicate name")

	err = b.AddRegion(Region{Name: "empty", Origin: 0xe000_0000})
	assert.ErrorIs(t, err, socerr.AddressConflictError)

	err = b.AddRegion(Region{Name: "beyond", Origin: 0xffff_ff00, Size: 0x1000})
	assert.ErrorIs(t, err, socerr.AddressConflictError)
}

func TestBusAlloc(t *testing.T) {
	b := vexBus()
	require.NoError(t, b.AddRegion(Region{Name: "rom", Origin: 0, Size: 0x2_0000, Cached: true}))
	require.NoError(t, b.AddRegion(Region{Name: "csr", Origin: 0x8000_0000, Size: 0x1_0000}))

	flash, err := b.AllocRegion("spiflash", 16<<20, true, "spiflash")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0100_0000), flash.Origin)

	eth, err := b.AllocRegion("ethmac", 0x2000, false, "ethmac")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x8001_0000), eth.Origin)

	odd, err := b.AllocRegion("odd", 0x3000, false, "odd")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x8001_4000), odd.Origin, "aligned on the next power of two")

	_, err = b.AllocRegion("huge", 1<<31, false, "huge")
	assert.ErrorIs(t, err, socerr.AddressConflictError)
}

func TestBusNeverOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := vexBus()
	for i := 0; i < 500; i++ {
		size := uint64(1+rng.Intn(1<<16)) << uint(rng.Intn(8))
		cached := rng.Intn(2) == 0
		name := "r" + strconv.Itoa(i)
		if rng.Intn(2) == 0 {
			_ = b.AddRegion(Region{Name: name, Origin: uint64(rng.Uint32()), Size: size, Cached: cached})
		} else {
			_, _ = b.AllocRegion(name, size, cached, name)
		}
	}

	regions := b.Regions()
	require.NotEmpty(t, regions)
	for i, r1 := range regions {
		for _, r2 := range regions[i+1:] {
			ok := r1.Origin+r1.Size <= r2.Origin || r2.Origin+r2.Size <= r1.Origin
			assert.True(t, ok, "%s overlaps %s", r1, r2)
		}
		if r1.Cached {
			for _, io := range b.IORegions() {
				assert.False(t, io.Overlaps(r1), "cached %s in IO", r1)
			}
		}
	}
}

func TestIRQMap(t *testing.T) {
	m := NewIRQMap(4)

	line, err := m.Add("uart", -1)
	require.NoError(t, err)
	assert.Equal(t, 0, line)

	line, err = m.Add("usb_ohci", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, line)

	_, err = m.Add("other", 2)
	assert.ErrorIs(t, err, socerr.ResourceInUse)
	_, err = m.Add("uart", -1)
	assert.ErrorIs(t, err, socerr.ResourceInUse)
	_, err = m.Add("far", 9)
	assert.ErrorIs(t, err, socerr.InterruptExhausted)

	for _, n := range []string{"a", "b"} {
		_, err := m.Add(n, -1)
		require.NoError(t, err)
	}
	_, err = m.Add("c", -1)
	assert.ErrorIs(t, err, socerr.InterruptExhausted)

	assert.Equal(t, []IRQ{{"uart", 0}, {"usb_ohci", 2}, {"a", 1}, {"b", 3}}, m.IRQs())
}

func TestCSRMap(t *testing.T) {
	m := NewCSRMap(0xf000_0000)
	b, err := m.Add("ctrl")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xf000_0000), b.Origin)

	b, err = m.Add("uart")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xf000_0800), b.Origin)

	_, err = m.Add("uart")
	assert.ErrorIs(t, err, socerr.ResourceInUse)

	for i := 2; i < DefaultCSRBanks; i++ {
		_, err := m.Add("bank" + strconv.Itoa(i))
		require.NoError(t, err)
	}
	_, err = m.Add("overflow")
	assert.ErrorIs(t, err, socerr.AddressConflictError)
}
