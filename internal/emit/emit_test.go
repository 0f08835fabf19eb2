package emit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
	"github.com/appkins-org/go-socbuild/internal/targets"
	"github.com/appkins-org/go-socbuild/internal/toolchain"
)

// fakeRunner stands in for the vendor tools. A build writes empty bitstreams
// next to the script; fail makes every call of that tool fail.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *fakeRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	for _, a := range args {
		if r.fail[a] {
			return nil, socerr.New(socerr.ExternalToolFailure, name, "exit status 1")
		}
	}
	for _, a := range args {
		if base, ok := strings.CutPrefix(a, "build_"); ok {
			base = strings.TrimSuffix(base, ".tcl")
			for _, ext := range []string{".bit", ".bin"} {
				if err := os.WriteFile(filepath.Join(dir, base+ext), nil, 0o644); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, nil
}

type buildCounter struct{ targets []string }

func (c *buildCounter) ObserveBuild(target string, err error) {
	if err == nil {
		c.targets = append(c.targets, target)
	}
}

func compose(t *testing.T, r toolchain.Runner, target string, args ...string) (*boards.Board, *soc.Builder) {
	t.Helper()
	reg, err := boards.NewRegistry(toolchain.NewSet(r, toolchain.Tools{}, logr.Discard()), logr.Discard())
	require.NoError(t, err)
	tgt, err := targets.Default().Lookup(target)
	require.NoError(t, err)
	fs := pflag.NewFlagSet(target, pflag.ContinueOnError)
	o := targets.Bind(fs, tgt.Features, tgt.Defaults)
	require.NoError(t, fs.Parse(args))
	b, cfg, err := tgt.Configure(reg, o)
	require.NoError(t, err)
	sb := soc.NewBuilder(cfg, soc.DefaultCatalog(), logr.Discard())
	_, err = sb.Compose(context.Background())
	require.NoError(t, err)
	return b, sb
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRun(t *testing.T) {
	r := &fakeRunner{}
	board, sb := compose(t, r, "xilinx_vcu37p")
	counter := &buildCounter{}
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard(), Metrics: counter}

	res, err := b.Run(context.Background(), board, sb, Actions{Build: true, CSRCSV: true, CSRJSON: true})
	require.NoError(t, err)
	assert.Equal(t, soc.SettingsEmitted, sb.Stage())
	assert.Equal(t, []string{"xilinx_vcu37p"}, counter.targets)

	assert.Equal(t, []string{
		"gateware/xilinx_vcu37p.json",
		"gateware/xilinx_vcu37p.xdc",
		"gateware/build_xilinx_vcu37p.tcl",
		"software/include/generated/mem.h",
		"software/include/generated/soc.h",
		"software/include/generated/csr.h",
		"csr.csv",
		"csr.json",
		SettingsFile,
	}, res.Files, "settings record is written last")
	assert.Equal(t, filepath.Join(res.Dir, "gateware", "xilinx_vcu37p.bit"), res.Bitstream)
	assert.Equal(t, []string{"vivado -mode batch -source build_xilinx_vcu37p.tcl"}, r.calls)

	data, err := os.ReadFile(res.Settings)
	require.NoError(t, err)
	var settings struct {
		Phy struct {
			PhyType  string `json:"phytype"`
			Databits int    `json:"databits"`
		} `json:"phy"`
		Geom   map[string]any `json:"geom"`
		Timing map[string]any `json:"timing"`
	}
	require.NoError(t, json.Unmarshal(data, &settings))
	assert.NotEmpty(t, settings.Geom)
	assert.NotEmpty(t, settings.Timing)

	_, err = b.Run(context.Background(), board, sb, Actions{})
	assert.ErrorIs(t, err, ErrAlreadyEmitted)
}

func TestRunDeterministic(t *testing.T) {
	var trees []map[string]string
	for range 2 {
		board, sb := compose(t, &fakeRunner{}, "mnt_rkx7", "--with-usb-host")
		b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}
		res, err := b.Run(context.Background(), board, sb, Actions{CSRCSV: true, CSRJSON: true})
		require.NoError(t, err)
		trees = append(trees, readTree(t, res.Dir))
	}
	if diff := cmp.Diff(trees[0], trees[1]); diff != "" {
		t.Errorf("emission differs between identical runs (-first +second):\n%s", diff)
	}
	assert.Contains(t, trees[0], SettingsFile)
}

func TestRunCleansUpOnFailure(t *testing.T) {
	out := t.TempDir()
	r := &fakeRunner{fail: map[string]bool{"build_xilinx_vcu37p.tcl": true}}
	board, sb := compose(t, r, "xilinx_vcu37p")
	b := &Builder{OutputDir: out, Log: logr.Discard()}

	res, err := b.Run(context.Background(), board, sb, Actions{Build: true})
	require.ErrorIs(t, err, socerr.ExternalToolFailure)
	assert.Equal(t, soc.Failed, sb.Stage())
	assert.Empty(t, res.Files)
	assert.Empty(t, res.Settings)
	_, err = os.Stat(filepath.Join(out, "xilinx_vcu37p"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunKeepsExistingFilesOnFailure(t *testing.T) {
	out := t.TempDir()
	keep := filepath.Join(out, "xilinx_vcu37p", "gateware", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("mine"), 0o644))

	r := &fakeRunner{fail: map[string]bool{"build_xilinx_vcu37p.tcl": true}}
	board, sb := compose(t, r, "xilinx_vcu37p")
	b := &Builder{OutputDir: out, Log: logr.Discard()}
	_, err := b.Run(context.Background(), board, sb, Actions{Build: true})
	require.Error(t, err)

	assert.Equal(t, map[string]string{"gateware/notes.txt": "mine"}, readTree(t, filepath.Join(out, "xilinx_vcu37p")))
}

func TestRunFailedRebuild(t *testing.T) {
	out := t.TempDir()
	board, sb := compose(t, &fakeRunner{}, "xilinx_vcu37p")
	first, err := (&Builder{OutputDir: out, Log: logr.Discard()}).Run(context.Background(), board, sb, Actions{Build: true})
	require.NoError(t, err)
	require.FileExists(t, first.Settings)
	before := readTree(t, first.Dir)

	r := &fakeRunner{fail: map[string]bool{"build_xilinx_vcu37p.tcl": true}}
	board, sb = compose(t, r, "xilinx_vcu37p")
	_, err = (&Builder{OutputDir: out, Log: logr.Discard()}).Run(context.Background(), board, sb, Actions{Build: true})
	require.ErrorIs(t, err, socerr.ExternalToolFailure)

	after := readTree(t, first.Dir)
	assert.NotContains(t, after, SettingsFile)
	delete(before, SettingsFile)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("tree after failed rebuild (-want +got):\n%s", diff)
	}
}

func TestRunLoadAndFlash(t *testing.T) {
	r := &fakeRunner{}
	board, sb := compose(t, r, "xilinx_vcu37p")
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}

	res, err := b.Run(context.Background(), board, sb, Actions{Build: true, Load: true, Flash: true})
	require.NoError(t, err)
	assert.Equal(t, soc.Flashed, sb.Stage())
	assert.Equal(t, []string{
		"vivado -mode batch -source build_xilinx_vcu37p.tcl",
		"vivado -mode batch -source load_xilinx_vcu37p.tcl",
		"vivado -mode batch -source flash_xilinx_vcu37p.tcl",
	}, r.calls)
	assert.FileExists(t, filepath.Join(res.Dir, "gateware", "flash_xilinx_vcu37p.tcl"))
}

func TestRunLoadFailure(t *testing.T) {
	r := &fakeRunner{}
	board, sb := compose(t, r, "xilinx_vcu37p")
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}

	// no build, so there is no bitstream to load
	res, err := b.Run(context.Background(), board, sb, Actions{Load: true})
	require.ErrorIs(t, err, socerr.ResourceNotFound)
	assert.Equal(t, soc.Failed, sb.Stage())
	assert.FileExists(t, res.Settings, "emitted artifacts survive a programming failure")
	assert.Empty(t, r.calls)
}

func TestRunWithoutSDRAM(t *testing.T) {
	board, sb := compose(t, &fakeRunner{}, "xilinx_zu5ev")
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}
	res, err := b.Run(context.Background(), board, sb, Actions{})
	require.NoError(t, err)
	assert.Empty(t, res.Settings)
	assert.NotContains(t, res.Files, SettingsFile)
	assert.Equal(t, soc.SettingsEmitted, sb.Stage())
}

type uncomposed struct{}

func (uncomposed) Design() *soc.Design { return nil }

func (uncomposed) Advance(context.Context, soc.Stage, func(context.Context) error) error {
	return errors.New("unreachable")
}

func TestRunNotComposed(t *testing.T) {
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}
	_, err := b.Run(context.Background(), &boards.Board{}, uncomposed{}, Actions{})
	assert.ErrorIs(t, err, socerr.InvalidOption)
}

func TestSoftwareFiles(t *testing.T) {
	board, sb := compose(t, &fakeRunner{}, "mnt_rkx7")
	b := &Builder{OutputDir: t.TempDir(), Log: logr.Discard()}
	res, err := b.Run(context.Background(), board, sb, Actions{CSRCSV: true, CSRJSON: true})
	require.NoError(t, err)
	tree := readTree(t, res.Dir)

	csv := tree["csr.csv"]
	assert.Contains(t, csv, "csr_base,ctrl,0xf0000000,,\n")
	assert.Contains(t, csv, "constant,config_clock_frequency,100000000,,\n")
	assert.Contains(t, csv, "constant,eth_dynamic_ip,None,,\n")
	assert.Contains(t, csv, "memory_region,main_ram,0x40000000,1073741824,cached\n")

	var doc struct {
		CSRBases  map[string]uint64 `json:"csr_bases"`
		Constants map[string]any    `json:"constants"`
		Memories  map[string]struct {
			Base uint64 `json:"base"`
			Type string `json:"type"`
		} `json:"memories"`
	}
	require.NoError(t, json.Unmarshal([]byte(tree["csr.json"]), &doc))
	assert.Equal(t, uint64(0xf000_0000), doc.CSRBases["ctrl"])
	assert.Nil(t, doc.Constants["eth_dynamic_ip"])
	assert.Equal(t, "io", doc.Memories["ethmac"].Type)

	mem := tree["software/include/generated/mem.h"]
	assert.Contains(t, mem, "#define MAIN_RAM_BASE 0x40000000L\n#define MAIN_RAM_SIZE 0x40000000\n")
	assert.Contains(t, tree["software/include/generated/soc.h"], "#define ETH_DYNAMIC_IP\n")
	assert.Contains(t, tree["software/include/generated/csr.h"], "#define CSR_CTRL_BASE (CSR_BASE + 0x00000000L)")
}
