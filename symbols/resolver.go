package symbols

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/ZenLiuCN/hostboot/metrics"
)

// ErrUnresolved is handed to the fatal hook of a strict Resolver.
var ErrUnresolved = errors.New("unresolved symbol in strict mode")

// Options configures a Resolver.
type Options struct {
	// Strict escalates every miss to Fatal.
	Strict  bool
	Fatal   func(err error)
	Logger  log.Logger
	Metrics *metrics.SymbolMetrics
}

// Resolver resolves non-exported symbols of the host image and caches the results.
//
// A Resolver is safe for concurrent use.
type Resolver struct {
	host     *Host
	provider Provider
	strict   bool
	fatal    func(err error)
	logger   log.Logger
	metrics  *metrics.SymbolMetrics

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]uintptr
	gen   uint64
}

// NewResolver creates a Resolver over the host image and a provider.
func NewResolver(host *Host, provider Provider, opt Options) *Resolver {
	if opt.Logger == nil {
		opt.Logger = log.NewNopLogger()
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.NewSymbolMetrics(nil)
	}
	return &Resolver{
		host:     host,
		provider: provider,
		strict:   opt.Strict,
		fatal:    opt.Fatal,
		logger:   log.With(opt.Logger, "component", "resolver"),
		metrics:  opt.Metrics,
		cache:    make(map[string]uintptr),
	}
}

// Resolve returns the address of name, false when the provider does not know it.
func (r *Resolver) Resolve(name string) (uintptr, bool) {
	r.mu.RLock()
	addr, ok := r.cache[name]
	gen := r.gen
	r.mu.RUnlock()
	if ok {
		r.metrics.Lookups.WithLabelValues(metrics.LookupHit).Inc()
		return addr, true
	}
	v, err, _ := r.group.Do(strconv.FormatUint(gen, 10)+"\x00"+name, func() (interface{}, error) {
		return r.provider.Lookup(r.host, name)
	})
	if err != nil {
		r.miss(name, err)
		return 0, false
	}
	addr = v.(uintptr)
	r.mu.Lock()
	if r.gen == gen {
		r.cache[name] = addr
	}
	r.mu.Unlock()
	r.metrics.Lookups.WithLabelValues(metrics.LookupResolved).Inc()
	return addr, true
}

func (r *Resolver) miss(name string, err error) {
	if errors.Is(err, ErrSymbolNotFound) {
		r.metrics.Lookups.WithLabelValues(metrics.LookupMiss).Inc()
	} else {
		r.metrics.Lookups.WithLabelValues(metrics.LookupError).Inc()
		level.Warn(r.logger).Log("msg", "provider lookup failed", "symbol", name, "err", err)
	}
	if !r.strict {
		return
	}
	level.Error(r.logger).Log("msg", "unresolved symbol", "symbol", name, "provider", r.provider.Kind())
	if r.fatal != nil {
		r.fatal(fmt.Errorf("%s: %w: %w", name, ErrUnresolved, err))
	}
}

// Flush drops every cached address. Lookups in flight when Flush is called do not repopulate the cache.
func (r *Resolver) Flush() {
	r.mu.Lock()
	r.cache = make(map[string]uintptr)
	r.gen++
	r.mu.Unlock()
	r.metrics.Flushes.Inc()
	level.Debug(r.logger).Log("msg", "symbol cache flushed")
}

// Len is the number of cached addresses.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) Provider() Provider {
	return r.provider
}

func (r *Resolver) Host() *Host {
	return r.host
}
