// Package emit writes the artifacts of a composed SoC: the design record,
// the toolchain inputs, the software headers and the memory controller
// settings. It then runs the toolchain and the programmer when asked.
package emit

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
	"github.com/appkins-org/go-socbuild/internal/toolchain"
)

const tracerName = "github.com/appkins-org/go-socbuild/internal/emit"

// SettingsFile is the memory controller settings record.
const SettingsFile = "sdram_settings.json"

// ErrAlreadyEmitted is returned when a Builder is run a second time.
var ErrAlreadyEmitted = errors.New("settings already emitted")

// Actions select what Run does beyond writing files.
type Actions struct {
	Build   bool
	Load    bool
	Flash   bool
	CSRCSV  bool
	CSRJSON bool
}

// Result lists what a run produced. Paths in Files are relative to Dir.
type Result struct {
	Dir       string
	Files     []string
	Settings  string
	Bitstream string
}

// Stager is the composed SoC whose later stages Run drives.
type Stager interface {
	Design() *soc.Design
	Advance(ctx context.Context, stage soc.Stage, fn func(context.Context) error) error
}

// BuildObserver is told about every finished run.
type BuildObserver interface {
	ObserveBuild(target string, err error)
}

// Builder emits one design into OutputDir/<name>. A Builder is single use.
type Builder struct {
	OutputDir string
	Log       logr.Logger
	Metrics   BuildObserver

	mu      sync.Mutex
	emitted bool
}

// Run writes the artifacts of the design held by s, then builds, loads and
// flashes as the actions ask. If writing or building fails, every file written by
// this run is removed again, files it overwrote get their old contents back
// and no settings record is left. Programming failures leave the artifacts
// in place and are not retried.
func (b *Builder) Run(ctx context.Context, board *boards.Board, s Stager, a Actions) (res *Result, err error) {
	d := s.Design()
	if d == nil {
		return nil, socerr.New(socerr.InvalidOption, "emit", "design not composed")
	}
	b.mu.Lock()
	if b.emitted {
		b.mu.Unlock()
		return nil, ErrAlreadyEmitted
	}
	b.emitted = true
	b.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "emit.Run")
	span.SetAttributes(
		attribute.String("soc.name", d.Name),
		attribute.Bool("emit.build", a.Build),
		attribute.Bool("emit.load", a.Load),
		attribute.Bool("emit.flash", a.Flash),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if b.Metrics != nil {
			b.Metrics.ObserveBuild(d.Name, err)
		}
	}()

	log := b.Log.WithValues("soc", d.Name)
	dir := filepath.Join(b.OutputDir, d.Name)
	w := &fileWriter{root: dir}
	res = &Result{Dir: dir}

	err = s.Advance(ctx, soc.SettingsEmitted, func(ctx context.Context) error {
		if err := b.emit(ctx, log, w, board, d, a, res); err != nil {
			if cerr := w.cleanup(); cerr != nil {
				log.Error(cerr, "cleanup failed")
			}
			return err
		}
		return nil
	})
	res.Files = w.files()
	if err != nil {
		return res, err
	}

	if a.Load {
		bit := board.Toolchain.Bitstream(filepath.Join(dir, "gateware"), d.Name, toolchain.SRAM)
		if err = s.Advance(ctx, soc.Loaded, func(ctx context.Context) error {
			return board.Programmer.Load(ctx, bit)
		}); err != nil {
			return res, err
		}
		log.Info("bitstream loaded", "bitstream", bit)
	}
	if a.Flash {
		bit := board.Toolchain.Bitstream(filepath.Join(dir, "gateware"), d.Name, toolchain.Flash)
		if err = s.Advance(ctx, soc.Flashed, func(ctx context.Context) error {
			return board.Programmer.Flash(ctx, 0, bit)
		}); err != nil {
			return res, err
		}
		log.Info("bitstream flashed", "bitstream", bit)
	}
	return res, nil
}

// emit writes every artifact; the settings record goes last so its
// presence marks a complete emission.
func (b *Builder) emit(ctx context.Context, log logr.Logger, w *fileWriter, board *boards.Board, d *soc.Design, a Actions, res *Result) error {
	// a settings record from an earlier build must not outlive a failed one
	if err := w.discard(SettingsFile); err != nil {
		return err
	}
	design, err := marshal(d)
	if err != nil {
		return err
	}
	if err := w.write(path.Join("gateware", d.Name+".json"), design); err != nil {
		return err
	}

	files, err := board.Toolchain.Files(d, board.Platform)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := w.write(path.Join("gateware", f.Name), f.Data); err != nil {
			return err
		}
	}

	headers := []struct {
		name   string
		render func(*soc.Design) ([]byte, error)
		on     bool
	}{
		{"software/include/generated/mem.h", memHeader, true},
		{"software/include/generated/soc.h", socHeader, true},
		{"software/include/generated/csr.h", csrHeader, true},
		{"csr.csv", csrCSV, a.CSRCSV},
		{"csr.json", csrJSON, a.CSRJSON},
	}
	for _, h := range headers {
		if !h.on {
			continue
		}
		data, err := h.render(d)
		if err != nil {
			return err
		}
		if err := w.write(h.name, data); err != nil {
			return err
		}
	}
	log.V(1).Info("files written", "dir", w.root, "count", len(w.created))

	if a.Build {
		gateware := filepath.Join(w.root, "gateware")
		log.Info("running toolchain", "toolchain", board.Toolchain.Name())
		if err := board.Toolchain.Build(ctx, gateware, d.Name); err != nil {
			return err
		}
		res.Bitstream = board.Toolchain.Bitstream(gateware, d.Name, toolchain.SRAM)
	}

	if d.SDRAM == nil {
		log.V(1).Info("no memory controller, settings record skipped")
		return nil
	}
	settings, err := marshal(d.SDRAM)
	if err != nil {
		return err
	}
	if err := w.writeAtomic(SettingsFile, settings); err != nil {
		return err
	}
	res.Settings = filepath.Join(w.root, SettingsFile)
	log.Info("settings emitted", "path", res.Settings)
	return nil
}
