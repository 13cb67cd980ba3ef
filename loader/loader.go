package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ZenLiuCN/hostboot/capability"
	"github.com/ZenLiuCN/hostboot/metrics"
	"github.com/ZenLiuCN/hostboot/symbols"
)

var (
	// ErrAlreadyLoaded occurs when a module with the same name is already in the registry.
	ErrAlreadyLoaded = errors.New("module already loaded")
	// ErrUnsupported occurs when no backend handles the extension of a file.
	ErrUnsupported = errors.New("unsupported module format")
	// ErrLoad wraps every backend failure.
	ErrLoad = errors.New("module load failed")
	// ErrNotLoaded occurs when a module is not in the registry.
	ErrNotLoaded = errors.New("module not loaded")
)

// Record is a module loaded by a Loader. It implements capability.Module.
type Record struct {
	name   string
	path   string
	kind   string
	handle Handle
}

func (r *Record) Name() string { return r.name }
func (r *Record) Path() string { return r.path }
func (r *Record) Kind() string { return r.kind }

// Options configures a Loader.
type Options struct {
	Backends []Backend
	// Resident lists the mappings of the process. It defaults to /proc/self/maps.
	Resident symbols.MapsReader
	// Flusher is called by FlushDebugSymbols.
	Flusher func()
	Logger  log.Logger
	Metrics *metrics.ModuleMetrics
}

// Loader owns every module loaded into the process.
//
// Records are never removed before Close. A Loader is safe for concurrent use.
type Loader struct {
	byExt    map[string]Backend
	resident symbols.MapsReader
	flusher  func()
	logger   log.Logger
	metrics  *metrics.ModuleMetrics

	mu      sync.RWMutex
	records map[string]*Record
	order   []*Record
	pending map[string]struct{}
}

// New creates a Loader. Backends listed first win when two of them claim the same extension.
func New(opt Options) *Loader {
	if opt.Logger == nil {
		opt.Logger = log.NewNopLogger()
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.NewModuleMetrics(nil)
	}
	if opt.Resident == nil {
		opt.Resident = symbols.SelfMaps
	}
	l := &Loader{
		byExt:    make(map[string]Backend),
		resident: opt.Resident,
		flusher:  opt.Flusher,
		logger:   log.With(opt.Logger, "component", "loader"),
		metrics:  opt.Metrics,
		records:  make(map[string]*Record),
		pending:  make(map[string]struct{}),
	}
	for _, b := range opt.Backends {
		for _, ext := range b.Extensions() {
			ext = strings.ToLower(ext)
			if _, ok := l.byExt[ext]; !ok {
				l.byExt[ext] = b
			}
		}
	}
	return l
}

// Extensions lists the file extensions the Loader can open, sorted.
func (l *Loader) Extensions() []string {
	out := make([]string, 0, len(l.byExt))
	for ext := range l.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether a backend handles the extension of path.
func (l *Loader) Supports(path string) bool {
	_, ok := l.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadModule loads the file at path and records it under its base name.
//
// The registry is not locked while the backend opens the file, so code running during the open
// may call back into the Loader.
func (l *Loader) LoadModule(path string) (*Record, error) {
	name := filepath.Base(path)
	backend, ok := l.byExt[strings.ToLower(filepath.Ext(name))]
	if !ok {
		l.metrics.LoadErrors.Inc()
		return nil, errors.Wrapf(ErrUnsupported, "%s", path)
	}
	l.mu.Lock()
	if _, ok := l.records[name]; ok {
		l.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyLoaded, "%s", name)
	}
	if _, ok := l.pending[name]; ok {
		l.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyLoaded, "%s is loading", name)
	}
	l.pending[name] = struct{}{}
	l.mu.Unlock()

	level.Info(l.logger).Log("msg", "loading module", "module", name, "path", path, "backend", backend.Kind())
	h, err := backend.Open(path)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, name)
	if err != nil {
		l.metrics.LoadErrors.Inc()
		return nil, fmt.Errorf("%s: %w: %w", path, ErrLoad, err)
	}
	rec := &Record{name: name, path: path, kind: backend.Kind(), handle: h}
	if hk, ok := h.(interface{ Kind() string }); ok {
		rec.kind = hk.Kind()
	}
	l.records[name] = rec
	l.order = append(l.order, rec)
	l.metrics.Loaded.WithLabelValues(rec.kind).Inc()
	return rec, nil
}

// Module returns the record called name.
func (l *Loader) Module(name string) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[name]
	return r, ok
}

// Modules returns the records in load order.
func (l *Loader) Modules() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Record, len(l.order))
	copy(out, l.order)
	return out
}

// IsModuleLoaded reports whether a module called name is resident, whoever loaded it.
func (l *Loader) IsModuleLoaded(name string) bool {
	if _, ok := l.Module(name); ok {
		return true
	}
	maps, err := l.resident()
	if err != nil {
		level.Warn(l.logger).Log("msg", "read process mappings", "err", err)
		return false
	}
	for _, m := range maps {
		if filepath.Base(m.Path) == name {
			return true
		}
	}
	return false
}

// handleLocked returns the open handle of m. l.mu must be held.
func (l *Loader) handleLocked(m capability.Module) (Handle, bool) {
	if m == nil {
		return nil, false
	}
	r, ok := m.(*Record)
	if !ok || r == nil {
		if r, ok = l.records[m.Name()]; !ok {
			return nil, false
		}
	}
	return r.handle, r.handle != nil
}

// ProcAddress returns an exported symbol of a loaded module.
// It does not consult debug information.
func (l *Loader) ProcAddress(m capability.Module, symbol string) (uintptr, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handleLocked(m)
	if !ok {
		return 0, false
	}
	return h.Lookup(symbol)
}

// EntryPoint returns the typed entry point of a loaded module.
func (l *Loader) EntryPoint(m capability.Module, symbol string) (capability.EntryPoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handleLocked(m)
	if !ok {
		return nil, ErrNotLoaded
	}
	return h.EntryPoint(symbol)
}

// FlushDebugSymbols drops the resolver cache.
func (l *Loader) FlushDebugSymbols() {
	if l.flusher != nil {
		l.flusher()
	}
}

// Close releases every module in reverse load order. It is meant for process teardown only.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs error
	for i := len(l.order) - 1; i >= 0; i-- {
		r := l.order[i]
		if r.handle == nil {
			continue
		}
		if err := r.handle.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "close %s", r.name))
		}
		r.handle = nil
	}
	l.order = nil
	l.records = make(map[string]*Record)
	return errs
}
