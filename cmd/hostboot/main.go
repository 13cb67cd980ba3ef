package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/ZenLiuCN/hostboot"
	"github.com/ZenLiuCN/hostboot/internal/objtool"
	"github.com/ZenLiuCN/hostboot/symbols"
)

func main() {
	app := cli.NewApp()
	app.Name = "hostboot"
	app.Usage = "process embedding bootstrapper"
	app.Description = "locate the host root, resolve host debug symbols, load and bootstrap loader modules"
	app.Version = hostboot.Version
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "yaml configuration file"},
		&cli.StringFlag{Name: "host", Usage: "host module name, overrides the configuration"},
		&cli.StringFlag{Name: "bootstrap-dir", Usage: "directory of the debug symbol provider and the log"},
	}
	app.Commands = []*cli.Command{
		{Name: "run", Action: run, Usage: "bootstrap this process and report the loaded modules",
			Flags: []cli.Flag{&cli.BoolFlag{Name: "dump", Usage: "dump the report"}}},
		{Name: "root", Action: root, Usage: "locate the host root directory",
			Flags: []cli.Flag{&cli.StringFlag{Name: "start", Usage: "start path, defaults to this executable"}}},
		{Name: "discover", Action: discover, Usage: "list the loader modules under a root", Args: true, ArgsUsage: "[root]"},
		{Name: "resolve", Action: resolve, Usage: "resolve host symbols through the debug symbol provider", Args: true, ArgsUsage: "symbol..."},
		{Name: "inspect", Action: inspect, Usage: "display symbols and imports of object modules", Args: true, ArgsUsage: "file.o...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Usage: "package path or default main"},
				&cli.BoolFlag{Name: "dump", Usage: "dump the parsed imports"},
			}},
		{Name: "compile", Action: compile, Usage: "compile go sources into an object module", Args: true, ArgsUsage: "source.go...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "object file"},
				&cli.BoolFlag{Name: "keep", Usage: "keep the generated importcfg"},
			}},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "failure %s\n", err)
		os.Exit(1)
	}
}

func logger(ctx *cli.Context) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if ctx.Bool("debug") {
		return level.NewFilter(l, level.AllowDebug())
	}
	return level.NewFilter(l, level.AllowInfo())
}

func config(ctx *cli.Context) (cfg hostboot.Config, err error) {
	cfg = hostboot.DefaultConfig()
	if f := ctx.String("config"); f != "" {
		if cfg, err = hostboot.LoadConfig(f); err != nil {
			return
		}
	}
	if h := ctx.String("host"); h != "" {
		cfg.HostModule = h
	}
	if d := ctx.String("bootstrap-dir"); d != "" {
		cfg.BootstrapDir = d
	}
	cfg.Debug = cfg.Debug || ctx.Bool("debug")
	return cfg, cfg.Validate()
}

func run(ctx *cli.Context) error {
	cfg, err := config(ctx)
	if err != nil {
		return err
	}
	cfg.Logger = logger(ctx)
	svc, err := hostboot.Attach(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(svc)
	r := svc.Report()
	if ctx.Bool("dump") {
		spew.Dump(r)
		return nil
	}
	fmt.Printf("root %s\n", r.Root)
	for _, m := range r.Bootstrapped {
		fmt.Printf("bootstrapped %s\n", m)
	}
	for _, m := range r.Skipped {
		fmt.Printf("skipped %s\n", m)
	}
	return nil
}

func root(ctx *cli.Context) error {
	cfg, err := config(ctx)
	if err != nil {
		return err
	}
	start := ctx.String("start")
	if start == "" {
		if start, err = os.Executable(); err != nil {
			return err
		}
	}
	r, err := hostboot.LocateRoot(afero.NewOsFs(), start, cfg.RootMarker(), cfg.MaxRootSteps)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%d\n", r.Dir, r.Steps)
	return nil
}

func discover(ctx *cli.Context) error {
	cfg, err := config(ctx)
	if err != nil {
		return err
	}
	dir := ctx.Args().First()
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		r, err := hostboot.LocateRoot(afero.NewOsFs(), exe, cfg.RootMarker(), cfg.MaxRootSteps)
		if err != nil {
			return err
		}
		dir = r.Dir
	}
	files, err := hostboot.Discover(afero.NewOsFs(), filepath.Join(dir, cfg.LoadersDir), cfg.Extensions)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func resolve(ctx *cli.Context) error {
	cfg, err := config(ctx)
	if err != nil {
		return err
	}
	if ctx.NArg() == 0 {
		return errors.New("missing symbols")
	}
	host, err := symbols.OpenHost(cfg.HostModule, symbols.SelfMaps)
	if err != nil {
		return err
	}
	p, err := symbols.OpenProvider(cfg.ProviderPath(), symbols.ProviderOptions{Kind: cfg.Provider, Demangle: cfg.Demangle})
	if err != nil {
		return err
	}
	r := symbols.NewResolver(host, p, symbols.Options{Logger: logger(ctx)})
	for _, name := range ctx.Args().Slice() {
		if addr, ok := r.Resolve(name); ok {
			fmt.Printf("%#x\t%s\n", addr, name)
		} else {
			fmt.Printf("-\t%s\n", name)
		}
	}
	return nil
}

func inspect(ctx *cli.Context) error {
	pkg := ctx.String("pkg")
	for _, f := range ctx.Args().Slice() {
		syms, err := objtool.Symbols(f, pkg)
		if err != nil {
			return err
		}
		info, err := objtool.Imports(f, pkg)
		if err != nil {
			return err
		}
		if ctx.Bool("dump") {
			spew.Dump(info)
		}
		fmt.Printf("%s\nsymbols:\n", f)
		for _, s := range syms {
			fmt.Printf("\t%s\n", s)
		}
		fmt.Printf("imports:\n%s", info)
	}
	return nil
}

func compile(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("missing target sources list")
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	b := &objtool.Builder{Dir: wd, Keep: ctx.Bool("keep") || ctx.Bool("debug"), Logger: logger(ctx)}
	return b.Compile(ctx.Context, ctx.String("output"), ctx.Args().Slice())
}
