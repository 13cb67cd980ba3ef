package hostboot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/ZenLiuCN/hostboot/capability"
	"github.com/ZenLiuCN/hostboot/loader"
)

// Discover lists the regular files of dir whose extension is one of exts, sorted by name.
// The directory is created when missing.
func Discover(fs afero.Fs, dir string, exts []string) ([]string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	exts = lo.Map(exts, func(e string, _ int) string { return strings.ToLower(e) })
	files := lo.Filter(infos, func(fi os.FileInfo, _ int) bool {
		return fi.Mode().IsRegular() && lo.Contains(exts, strings.ToLower(filepath.Ext(fi.Name())))
	})
	return lo.Map(files, func(fi os.FileInfo, _ int) string { return filepath.Join(dir, fi.Name()) }), nil
}

// Report is the outcome of a discovery and bootstrap pass.
type Report struct {
	Root         string
	Discovered   []string //paths
	Loaded       []string //module names in load order
	Bootstrapped []string
	Skipped      []string //loaded modules without a usable entry point
}

// bootstrap loads every discovered module, then calls the entry point of each in load order.
// Any load failure aborts before a single entry point runs.
func (s *Service) bootstrap(ctx context.Context) (r Report, err error) {
	r.Root = s.root.Dir
	dir := filepath.Join(s.root.Dir, s.cfg.LoadersDir)
	if r.Discovered, err = Discover(s.cfg.Fs, dir, s.cfg.Extensions); err != nil {
		return
	}
	level.Info(s.logger).Log("msg", "discovered loader modules", "dir", dir, "count", len(r.Discovered))
	loaded := make([]*loader.Record, 0, len(r.Discovered))
	for _, path := range r.Discovered {
		m, err := s.loader.LoadModule(path)
		if err != nil {
			return r, fmt.Errorf("%s: %w: %w", filepath.Base(path), ErrModuleLoad, err)
		}
		loaded = append(loaded, m)
		r.Loaded = append(r.Loaded, m.Name())
	}
	for _, m := range loaded {
		entry, err := s.loader.EntryPoint(m, capability.EntryPointSymbol)
		if err != nil {
			level.Warn(s.logger).Log("msg", capability.EntryPointSymbol+"() not found in loader module", "module", m.Name(), "err", err)
			s.metrics.Modules.MissingEntryPoints.Inc()
			r.Skipped = append(r.Skipped, m.Name())
			continue
		}
		level.Info(s.logger).Log("msg", "bootstrapping module", "module", m.Name())
		entry(s.Table(ctx))
		s.metrics.Modules.Bootstrapped.Inc()
		r.Bootstrapped = append(r.Bootstrapped, m.Name())
	}
	return
}
