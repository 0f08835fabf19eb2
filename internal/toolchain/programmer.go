package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

var (
	loadTpl = template.Must(template.New("load").Parse(
		`open_hw_manager
connect_hw_server
open_hw_target
set_property PROGRAM.FILE {{printf "{%s}" .Path}} [current_hw_device]
program_hw_devices [current_hw_device]
quit
`))

	flashTpl = template.Must(template.New("flash").Parse(
		`open_hw_manager
connect_hw_server
open_hw_target
create_hw_cfgmem -hw_device [current_hw_device] [lindex [get_cfgmem_parts {{printf "{%s}" .Part}}] 0]
set_property PROGRAM.BLANK_CHECK 0 [current_hw_cfgmem]
set_property PROGRAM.ERASE 1 [current_hw_cfgmem]
set_property PROGRAM.CFG_PROGRAM 1 [current_hw_cfgmem]
set_property PROGRAM.VERIFY 1 [current_hw_cfgmem]
set_property PROGRAM.CHECKSUM 0 [current_hw_cfgmem]
set_property PROGRAM.ADDRESS_RANGE {use_file} [current_hw_cfgmem]
set_property PROGRAM.FILES [list {{printf "{%s}" .Path}}] [current_hw_cfgmem]
set_property PROGRAM.UNUSED_PIN_TERMINATION {pull-none} [current_hw_cfgmem]
create_hw_bitstream -hw_device [current_hw_device] [get_property PROGRAM.HW_CFGMEM_BITFILE [current_hw_device]]
program_hw_devices [current_hw_device]
refresh_hw_device [current_hw_device]
program_hw_cfgmem -hw_cfgmem [current_hw_cfgmem]
quit
`))
)

// VivadoProgrammer programs boards through the Vivado hardware manager. The
// script is written next to the artifact.
type VivadoProgrammer struct {
	Runner    Runner
	Binary    string
	FlashPart string
	Log       logr.Logger
}

func (p *VivadoProgrammer) Load(ctx context.Context, path string) error {
	return p.program(ctx, loadTpl, "load", path, nil)
}

func (p *VivadoProgrammer) Flash(ctx context.Context, offset uint64, path string) error {
	if offset != 0 {
		return socerr.New(socerr.InvalidOption, path, "vivado flashes from offset 0 only, got 0x%x", offset)
	}
	if p.FlashPart == "" {
		return socerr.New(socerr.InvalidOption, "vivado", "no configuration memory part for this board")
	}
	return p.program(ctx, flashTpl, "flash", path, map[string]any{"Part": p.FlashPart})
}

func (p *VivadoProgrammer) program(ctx context.Context, t *template.Template, op, path string, extra map[string]any) error {
	if _, err := os.Stat(path); err != nil {
		return socerr.Wrap(socerr.ResourceNotFound, path, err)
	}
	data := map[string]any{"Path": filepath.Base(path)}
	for k, v := range extra {
		data[k] = v
	}
	script, err := render(t, data)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := op + "_" + base + ".tcl"
	if err := os.WriteFile(filepath.Join(dir, name), script, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	p.Log.Info("programming", "operation", op, "artifact", path)
	_, err = p.Runner.Run(ctx, dir, p.Binary, "-mode", "batch", "-source", name)
	return err
}

// OpenFPGALoader drives openFPGALoader with a board profile.
type OpenFPGALoader struct {
	Runner        Runner
	Binary        string
	Board         string
	ExternalFlash bool
	Log           logr.Logger
}

func (o *OpenFPGALoader) Load(ctx context.Context, path string) error {
	o.Log.Info("programming", "operation", "load", "artifact", path, "board", o.Board)
	_, err := o.Runner.Run(ctx, filepath.Dir(path), o.Binary, "--board", o.Board, path)
	return err
}

func (o *OpenFPGALoader) Flash(ctx context.Context, offset uint64, path string) error {
	args := []string{"--board", o.Board, "--write-flash"}
	if offset != 0 {
		args = append(args, "--offset", strconv.FormatUint(offset, 10))
	}
	if o.ExternalFlash {
		args = append(args, "--external-flash")
	}
	args = append(args, path)
	o.Log.Info("programming", "operation", "flash", "artifact", path, "board", o.Board, "offset", offset)
	_, err := o.Runner.Run(ctx, filepath.Dir(path), o.Binary, args...)
	return err
}
