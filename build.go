package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/appkins-org/go-socbuild/internal/emit"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/targets"
)

// targetCommand exposes one target: its flags come from the target's
// feature set and defaults.
func (a *app) targetCommand(t *targets.Target) *cobra.Command {
	var csrCSV, csrJSON bool
	cmd := &cobra.Command{
		Use:   t.Name,
		Short: t.Description,
		Args:  cobra.NoArgs,
	}
	o := targets.Bind(cmd.Flags(), t.Features, t.Defaults)
	cmd.Flags().BoolVar(&csrCSV, "csr-csv", false, "write the CSR map as csr.csv")
	cmd.Flags().BoolVar(&csrJSON, "csr-json", false, "write the CSR map as csr.json")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		_, err := a.build(cmd.Context(), t, o, emit.Actions{
			Build:   o.Build,
			Load:    o.Load,
			Flash:   o.Flash,
			CSRCSV:  csrCSV,
			CSRJSON: csrJSON,
		})
		return err
	}
	return cmd
}

// build composes t with o and emits the result below output_dir.
func (a *app) build(ctx context.Context, t *targets.Target, o *targets.Options, act emit.Actions) (*emit.Result, error) {
	reg, err := a.boards()
	if err != nil {
		return nil, err
	}
	board, cfg, err := t.Configure(reg, o)
	if err != nil {
		return nil, err
	}
	log := a.log.WithValues("target", t.Name, "board", board.ID)

	sb := soc.NewBuilder(cfg, soc.DefaultCatalog(), log, soc.WithObserver(a.metrics))
	d, err := sb.Compose(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveDesign(d)
	log.Info("soc composed", "ident", d.Ident, "cpu", d.CPU, "sys_clk_freq", d.SysClkFreq,
		"regions", len(d.Regions), "csrs", len(d.CSRs), "irqs", len(d.IRQs))

	eb := &emit.Builder{OutputDir: a.conf.OutputDir, Log: log, Metrics: a.metrics}
	res, err := eb.Run(ctx, board, sb, act)
	if err != nil {
		return res, err
	}
	log.Info("build tree written", "dir", res.Dir, "files", len(res.Files))
	if res.Bitstream != "" {
		rel, _ := filepath.Rel(a.conf.OutputDir, res.Bitstream)
		log.Info("bitstream ready", "bitstream", rel)
	}
	return res, nil
}
