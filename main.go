package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/config"
	"github.com/appkins-org/go-socbuild/internal/metrics"
	"github.com/appkins-org/go-socbuild/internal/targets"
	"github.com/appkins-org/go-socbuild/internal/toolchain"
	"github.com/appkins-org/go-socbuild/internal/tracing"
)

var version = "dev"

// app carries what every command needs once configuration is loaded.
type app struct {
	loader   *config.Loader
	conf     *config.Config
	log      logr.Logger
	metrics  *metrics.Collector
	targets  *targets.Registry
	shutdown func(context.Context) error
}

func main() {
	ctx, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer done()

	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(ctx); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		done()
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{loader: config.NewLoader(), targets: targets.Default(), metrics: metrics.New()}
	root := &cobra.Command{
		Use:           "socbuild",
		Short:         "Compose FPGA SoCs for supported boards and build them with the vendor toolchains",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	a.loader.BindFlags(root.PersistentFlags())

	for _, name := range a.targets.Names() {
		t, _ := a.targets.Lookup(name)
		root.AddCommand(a.targetCommand(t))
	}
	root.AddCommand(a.boardsCommand(), a.checkCommand(), a.serveCommand())
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	conf, err := a.loader.Load(cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.conf, a.log = conf, conf.Log
	if f := a.loader.File(); f != "" {
		a.log.V(1).Info("config loaded", "file", f)
	}
	a.shutdown, err = tracing.Setup(cmd.Context(), a.log, tracing.Config{
		Endpoint: conf.Tracing.Endpoint,
		Insecure: conf.Tracing.Insecure,
		Version:  version,
	})
	return err
}

// teardown writes the metrics textfile and flushes traces. It runs after
// failed commands too.
func (a *app) teardown(ctx context.Context) error {
	if a.conf == nil {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.conf.Metrics.Textfile); err != nil {
		a.log.Error(err, "writing metrics", "path", a.conf.Metrics.Textfile)
	}
	if a.shutdown != nil {
		return a.shutdown(context.WithoutCancel(ctx))
	}
	return nil
}

// boards returns a registry of the built-in and boards_dir boards whose
// toolchains run the configured binaries.
func (a *app) boards() (*boards.Registry, error) {
	set := toolchain.NewSet(toolchain.ExecRunner{Log: a.log}, a.conf.Tools, a.log)
	return boards.NewRegistry(set, a.log, a.conf.BoardsDir)
}
