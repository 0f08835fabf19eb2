package sdram

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

func TestSettingsDDR3K7(t *testing.T) {
	s, err := Settings("IS43TR16512B", "K7DDRPHY", 100_000_000, Options{Databits: 32})
	require.NoError(t, err)

	wantPhy := PhySettings{
		PhyType:      "K7DDRPHY",
		MemType:      "DDR3",
		Databits:     32,
		DFIDatabits:  64,
		NRanks:       1,
		NPhases:      4,
		RdPhase:      1,
		WrPhase:      2,
		CL:           6,
		CWL:          5,
		ReadLatency:  8,
		WriteLatency: 1,
		CmdLatency:   1,
	}
	if diff := cmp.Diff(wantPhy, s.Phy); diff != "" {
		t.Errorf("phy mismatch (-want +got):\n%s", diff)
	}

	wantTiming := TimingSettings{
		TRP: 3, TRCD: 3, TWR: 3, TWTR: 2, TREFI: 782, TRFC: 27,
		TFAW: 5, TCCD: 1, TRRD: 2, TRC: 6, TRAS: 5, TZQCS: 16,
	}
	if diff := cmp.Diff(wantTiming, s.Timing); diff != "" {
		t.Errorf("timing mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, GeomSettings{BankBits: 3, RowBits: 16, ColBits: 10}, s.Geom)
	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(2<<30), size)
}

func TestSettingsDDR3HalfRate(t *testing.T) {
	s, err := Settings("MT41J128M16", "GW2DDRPHY", 48_000_000, Options{Databits: 16, RttNom: "disabled"})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Phy.NPhases)
	assert.Equal(t, 6, s.Phy.CL)
	assert.Equal(t, 0, s.Phy.RdPhase)
	assert.Equal(t, 1, s.Phy.WrPhase)
	assert.Equal(t, "disabled", s.Phy.RttNom)
	assert.Equal(t, 2, s.Timing.TRP)
	assert.Equal(t, 375, s.Timing.TREFI)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(256<<20), size)
}

func TestSettingsDDR4RDIMM(t *testing.T) {
	s, err := Settings("MTA18ASF2G72PZ", "A7DDRPHY", 100_000_000, Options{Databits: 64})
	require.NoError(t, err)

	assert.Equal(t, "DDR4", s.Phy.MemType)
	assert.Equal(t, 11, s.Phy.CL)
	assert.Equal(t, 9, s.Phy.CWL)
	assert.Equal(t, 1, s.Phy.RdPhase)
	assert.Equal(t, 3, s.Phy.WrPhase)
	assert.True(t, s.Phy.IsRDIMM)
	assert.Equal(t, "1x", s.Timing.FineRefreshMode)
	assert.Equal(t, 4, s.Geom.BankBits)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(16<<30), size)
}

func TestSettingsRejects(t *testing.T) {
	cases := map[string]struct {
		module, phy string
		sys         int64
		opts        Options
		kind        socerr.Kind
	}{
		"unknown module":      {"MT99", "K7DDRPHY", 100e6, Options{Databits: 32}, socerr.ResourceNotFound},
		"unknown phy":         {"MT41J128M16", "ECP5DDRPHY", 100e6, Options{Databits: 32}, socerr.ResourceNotFound},
		"phy memtype":         {"MT40A512M16", "GW2DDRPHY", 48e6, Options{Databits: 16}, socerr.InvalidOption},
		"bad width":           {"MT41J128M16", "K7DDRPHY", 100e6, Options{Databits: 12}, socerr.InvalidOption},
		"too fast":            {"MT41J128M16", "K7DDRPHY", 250e6, Options{Databits: 16}, socerr.ClockConfigError},
		"unknown speed grade": {"MT41J128M16", "K7DDRPHY", 100e6, Options{Databits: 16, SpeedGrade: "2133"}, socerr.InvalidOption},
		"bad refresh mode":    {"MT40A512M16", "USPDDRPHY", 125e6, Options{Databits: 64, FineRefreshMode: "8x"}, socerr.InvalidOption},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Settings(c.module, c.phy, c.sys, c.opts)
			assert.ErrorIs(t, err, c.kind)
		})
	}
}

func TestConverterMargins(t *testing.T) {
	full := converter{rate: "1:1", freq: 100_000_000}
	half := converter{rate: "1:2", freq: 100_000_000}
	quarter := converter{rate: "1:4", freq: 100_000_000}

	// 15ns at 10ns per cycle
	assert.Equal(t, 2, full.ns(15_000, true))
	assert.Equal(t, 2, half.ns(15_000, true))
	assert.Equal(t, 3, quarter.ns(15_000, true))
	assert.Equal(t, 2, quarter.ns(15_000, false))

	assert.Equal(t, 4, full.ck(4))
	assert.Equal(t, 2, half.ck(4))
	assert.Equal(t, 1, quarter.ck(4))
	assert.Equal(t, 16, quarter.ckns(CKNS{CK: 64, PS: 80_000}))
}
