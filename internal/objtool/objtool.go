// Package objtool builds and inspects relocatable object modules for the object backend.
package objtool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
)

// ImportCfgName is the import configuration written next to the compiled sources.
const ImportCfgName = "importcfg"

// Builder drives the go tool to compile module sources into object files.
type Builder struct {
	Go     string //go command, defaults to "go"
	Dir    string //working directory of the go tool and of the importcfg
	Keep   bool   //keep the importcfg after compiling
	Logger log.Logger
}

func (b *Builder) goCmd() string {
	if b.Go == "" {
		return "go"
	}
	return b.Go
}

func (b *Builder) logger() log.Logger {
	if b.Logger == nil {
		return log.NewNopLogger()
	}
	return b.Logger
}

func (b *Builder) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.goCmd(), args...)
	cmd.Dir = b.Dir
	level.Debug(b.logger()).Log("msg", "execute", "args", strings.Join(cmd.Args, " "))
	return cmd
}

func (b *Builder) output(cmd *exec.Cmd, what string) ([]byte, error) {
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = ee.Stderr
		}
		return nil, errors.Wrapf(err, "%s: %s", what, strings.TrimSpace(string(stderr)))
	}
	return out, nil
}

// ImportCfg writes the importcfg of the packages imported by sources.
func (b *Builder) ImportCfg(ctx context.Context, sources []string) (err error) {
	var out []byte
	if out, err = b.output(b.command(ctx, append([]string{"list", "-export", "-f", "{{.Imports}}"}, sources...)...), "list imports"); err != nil {
		return
	}
	deps := ParseImports(string(out))
	level.Debug(b.logger()).Log("msg", "imports", "deps", strings.Join(deps, ","))
	args := append([]string{"list", "-export", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)
	if out, err = b.output(b.command(ctx, args...), "list dependencies"); err != nil {
		return
	}
	return os.WriteFile(filepath.Join(b.Dir, ImportCfgName), out, 0o644)
}

// Compile compiles sources into an object file named output, or named after the first source.
func (b *Builder) Compile(ctx context.Context, output string, sources []string) (err error) {
	if len(sources) == 0 {
		return errors.New("missing sources")
	}
	if _, err = exec.LookPath(b.goCmd()); err != nil {
		return errors.Wrap(err, "missing go sdk")
	}
	if err = b.ImportCfg(ctx, sources); err != nil {
		return
	}
	args := []string{"tool", "compile", "-importcfg", ImportCfgName}
	if output != "" {
		args = append(args, "-o", output)
	}
	cmd := b.command(ctx, append(args, sources...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err = cmd.Run(); err != nil {
		return errors.Wrap(err, "compile")
	}
	if !b.Keep {
		err = os.Remove(filepath.Join(b.Dir, ImportCfgName))
	}
	return
}

// ParseImports splits the "[a b c]" output of go list.
func ParseImports(out string) []string {
	out = strings.TrimSpace(out)
	out = strings.TrimSuffix(strings.TrimPrefix(out, "["), "]")
	return strings.Fields(out)
}

// Info lists the packages an object file imports.
type Info struct {
	File    string
	PkgPath string
	Imports map[string]string //import path to module version, empty outside modules
}

func (i Info) String() string {
	s := strings.Builder{}
	keys := fn.MapKeys(i.Imports)
	sort.Strings(keys)
	for _, p := range keys {
		if v := i.Imports[p]; v != "" {
			s.WriteString(fmt.Sprintf("\t%s@%s\n", p, v))
		} else {
			s.WriteString(fmt.Sprintf("\t%s\n", p))
		}
	}
	return s.String()
}

// Imports reads the imports of an object file compiled for package pkgPath, "main" when empty.
func Imports(file, pkgPath string) (*Info, error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	v := &obj.Pkg{Syms: make(map[string]*obj.ObjSymbol), File: file, PkgPath: pkgPath}
	if err := v.Symbols(); err != nil {
		return nil, errors.Wrapf(err, "read %s", file)
	}
	i := &Info{File: file, PkgPath: pkgPath, Imports: versions(v.ImportPkgs, v.CUFiles)}
	return i, nil
}

// versions takes module versions from compilation unit paths such as
// gofile..$GOPATH/pkg/mod/github.com/!zen!liu!c!n/fn@v0.1.33/fn.go
func versions(imports, units []string) map[string]string {
	m := make(map[string]string, len(imports))
	for _, pkg := range imports {
		m[pkg] = ""
	}
	for _, f := range units {
		f = strings.TrimPrefix(f, "gofile..")
		if strings.HasPrefix(f, "$GOROOT") {
			continue
		}
		if strings.IndexByte(f, '!') >= 0 {
			f = unescape(f)
		}
		for _, pkg := range imports {
			x := strings.Index(f, pkg)
			if x < 0 || m[pkg] != "" {
				continue
			}
			rest := f[x:]
			y := strings.IndexByte(rest, '@')
			if y < 0 {
				continue
			}
			ver := rest[y+1:]
			if y = strings.IndexByte(ver, '/'); y >= 0 {
				ver = ver[:y]
			}
			m[pkg] = ver
		}
	}
	return m
}

// unescape reverses the module cache case encoding: "!z" is "Z".
func unescape(f string) string {
	v := strings.Builder{}
	bang := false
	for _, c := range []byte(f) {
		switch {
		case c == '!':
			bang = true
		case bang:
			bang = false
			v.WriteByte(c - 32)
		default:
			v.WriteByte(c)
		}
	}
	return v.String()
}

// Symbols lists the symbols defined by an object file.
func Symbols(file, pkgPath string) ([]string, error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	syms, err := goloader.Parse(file, pkgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", file)
	}
	sort.Strings(syms)
	return syms, nil
}
