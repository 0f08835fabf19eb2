package soc

import (
	"fmt"
	"math/bits"

	"github.com/ccoveille/go-safecast"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Region is an address window on the SoC bus.
type Region struct {
	Name   string `json:"name"`
	Origin uint64 `json:"origin"`
	Size   uint64 `json:"size"`
	Cached bool   `json:"cached"`
	Linker bool   `json:"linker,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Origin + r.Size }

// Overlaps reports whether r and o share at least one address.
func (r Region) Overlaps(o Region) bool {
	return !(r.End() <= o.Origin || o.End() <= r.Origin)
}

// Contains reports whether o lies entirely inside r.
func (r Region) Contains(o Region) bool {
	return o.Origin >= r.Origin && o.End() <= r.End()
}

// Origin32 returns the origin as a 32-bit bus address.
func (r Region) Origin32() (uint32, error) { return safecast.ToUint32(r.Origin) }

func (r Region) String() string {
	return fmt.Sprintf("%s@0x%08x+0x%x", r.Name, r.Origin, r.Size)
}

// Bus is the shared address-mapped interconnect. Registered regions never
// overlap; uncached regions live inside an IO region and cached ones
// outside of every IO region.
type Bus struct {
	addressWidth int
	io           []Region
	regions      []Region
}

func NewBus(addressWidth int, io []Region) *Bus {
	return &Bus{addressWidth: addressWidth, io: append([]Region(nil), io...)}
}

// Regions returns the registered regions in registration order.
func (b *Bus) Regions() []Region { return append([]Region(nil), b.regions...) }

// IORegions returns the IO regions of the bus.
func (b *Bus) IORegions() []Region { return append([]Region(nil), b.io...) }

// Region returns the named region.
func (b *Bus) Region(name string) (Region, bool) {
	for _, r := range b.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

func (b *Bus) limit() uint64 { return uint64(1) << b.addressWidth }

func (b *Bus) inIO(r Region) bool {
	for _, io := range b.io {
		if io.Contains(r) {
			return true
		}
	}
	return false
}

func (b *Bus) touchesIO(r Region) (Region, bool) {
	for _, io := range b.io {
		if io.Overlaps(r) {
			return io, true
		}
	}
	return Region{}, false
}

// AddRegion registers r at its explicit origin.
func (b *Bus) AddRegion(r Region) error {
	if r.Size == 0 {
		return socerr.New(socerr.AddressConflictError, r.Name, "region has zero size")
	}
	if r.End() > b.limit() || r.End() < r.Origin {
		return socerr.New(socerr.AddressConflictError, r.Name,
			"region %s exceeds the %d-bit address space", r, b.addressWidth)
	}
	if _, dup := b.Region(r.Name); dup {
		return socerr.New(socerr.AddressConflictError, r.Name, "region already registered")
	}
	for _, o := range b.regions {
		if o.Overlaps(r) {
			return socerr.New(socerr.AddressConflictError, r.Name, "region %s overlaps %s", r, o)
		}
	}
	if r.Cached {
		if io, ok := b.touchesIO(r); ok {
			return socerr.New(socerr.AddressConflictError, r.Name, "cached region %s overlaps IO region %s", r, io)
		}
	} else if !b.inIO(r) {
		return socerr.New(socerr.AddressConflictError, r.Name, "uncached region %s outside IO regions", r)
	}
	b.regions = append(b.regions, r)
	return nil
}

// AllocRegion places a region of the given size at the lowest free origin
// aligned on the size rounded up to a power of two. Uncached regions are
// searched inside the IO regions, cached ones in the rest of the space.
func (b *Bus) AllocRegion(name string, size uint64, cached bool, owner string) (Region, error) {
	if size == 0 {
		return Region{}, socerr.New(socerr.AddressConflictError, name, "region has zero size")
	}
	align := pow2(size)
	search := b.io
	if cached {
		search = []Region{{Name: "main", Origin: 0, Size: b.limit()}}
	}
	for _, sr := range search {
		origin := sr.Origin
		for origin+size <= sr.End() {
			if rem := origin % align; rem != 0 {
				origin += align - rem
				continue
			}
			cand := Region{Name: name, Origin: origin, Size: size, Cached: cached, Owner: owner}
			if blocker, ok := b.blocker(cand); ok {
				origin = blocker.End()
				continue
			}
			if err := b.AddRegion(cand); err != nil {
				return Region{}, err
			}
			return cand, nil
		}
	}
	return Region{}, socerr.New(socerr.AddressConflictError, name, "not enough address space for 0x%x bytes", size)
}

func (b *Bus) blocker(cand Region) (Region, bool) {
	for _, o := range b.regions {
		if o.Overlaps(cand) {
			return o, true
		}
	}
	if cand.Cached {
		return b.touchesIO(cand)
	}
	return Region{}, false
}

func pow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}
