package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/appkins-org/go-socbuild/internal/boards"
	"github.com/appkins-org/go-socbuild/internal/config"
	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/targets"
	itftp "github.com/appkins-org/go-socbuild/internal/tftp"
)

func (a *app) boardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the known boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.boards()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BOARD\tDEVICE\tTOOLCHAIN\tPROGRAMMER\tVARIANTS")
			for _, id := range reg.IDs() {
				d, err := reg.Lookup(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Device, d.Toolchain, d.Programmer.Name, strings.Join(d.VariantNames(), ","))
			}
			return w.Flush()
		},
	}
}

type job struct {
	name string
	t    *targets.Target
	args []string
}

// jobs lists one composition per target with its defaults, plus the
// generic target on every board.
func (a *app) jobs(reg *boards.Registry) []job {
	var out []job
	for _, name := range a.targets.Names() {
		t, _ := a.targets.Lookup(name)
		if t.Board != "" {
			out = append(out, job{name: name, t: t})
			continue
		}
		for _, id := range reg.IDs() {
			out = append(out, job{name: name + "/" + id, t: t, args: []string{"--board", id}})
		}
	}
	return out
}

// check composes every job concurrently without writing anything.
func (a *app) check(ctx context.Context) error {
	reg, err := a.boards()
	if err != nil {
		return err
	}
	jobs := a.jobs(reg)
	errs := make([]error, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, j := range jobs {
		g.Go(func() error {
			errs[i] = compose(ctx, a.log, reg, j)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", j.name, errs[i])
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	a.log.Info("check finished", "compositions", len(jobs), "failed", failed)
	return errors.Join(errs...)
}

func compose(ctx context.Context, log logr.Logger, reg *boards.Registry, j job) error {
	fs := pflag.NewFlagSet(j.name, pflag.ContinueOnError)
	o := targets.Bind(fs, j.t.Features, j.t.Defaults)
	if err := fs.Parse(j.args); err != nil {
		return err
	}
	_, cfg, err := j.t.Configure(reg, o)
	if err != nil {
		return err
	}
	_, err = soc.NewBuilder(cfg, soc.DefaultCatalog(), log.V(1)).Compose(ctx)
	return err
}

func (a *app) checkCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compose every target with its defaults and report failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !watch {
				return a.check(cmd.Context())
			}
			return a.watch(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run whenever a file in boards_dir changes")
	return cmd
}

// watch re-runs check on boards_dir or config file changes until ctx is
// done. Failures are logged, not returned.
func (a *app) watch(ctx context.Context) error {
	if a.conf.BoardsDir == "" {
		return errors.New("check --watch needs boards_dir")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(a.conf.BoardsDir); err != nil {
		return fmt.Errorf("watching %s: %w", a.conf.BoardsDir, err)
	}

	reloaded := make(chan *config.Config, 1)
	if a.loader.File() != "" {
		a.loader.Watch(func(c *config.Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}

	run := func() {
		if err := a.check(ctx); err != nil && ctx.Err() == nil {
			a.log.Error(err, "check failed")
		}
	}
	run()

	const settle = 200 * time.Millisecond
	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			a.log.V(1).Info("boards changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Error(err, "watcher")
		case c := <-reloaded:
			if c.BoardsDir != a.conf.BoardsDir && c.BoardsDir != "" {
				if err := watcher.Add(c.BoardsDir); err != nil {
					a.log.Error(err, "watching boards_dir", "dir", c.BoardsDir)
					continue
				}
				_ = watcher.Remove(a.conf.BoardsDir)
			}
			a.conf, a.log = c, c.Log
			timer.Reset(settle)
		case <-timer.C:
			run()
		}
	}
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve build software to netbooting SoCs over TFTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			addr, err := netip.ParseAddr(a.conf.Tftp.Address)
			if err != nil {
				return fmt.Errorf("tftp.address: %w", err)
			}
			if ip, iface, err := config.GetLocalIP(); err == nil && ip != "" {
				a.log.Info("build SoCs with --remote-ip to netboot from this host", "remote_ip", ip, "interface", iface)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				ts := &itftp.Server{Logger: a.log, RootDirectory: a.conf.Tftp.RootDirectory}
				port, err := safecast.ToUint16(a.conf.Tftp.Port)
				if err != nil {
					return fmt.Errorf("tftp.port: %w", err)
				}
				return ts.ListenAndServe(ctx, netip.AddrPortFrom(addr, port))
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error(err, "failed running all services")
				return err
			}
			a.log.Info("shutting down")
			return nil
		},
	}
}
