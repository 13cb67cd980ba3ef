package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Symbols *SymbolMetrics
	Modules *ModuleMetrics
}

// New creates every metric of the bootstrapper. A nil registerer keeps them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Symbols: NewSymbolMetrics(reg),
		Modules: NewModuleMetrics(reg),
	}
}

type SymbolMetrics struct {
	Lookups *prometheus.CounterVec
	Flushes prometheus.Counter
}

const (
	LookupHit      = "hit"
	LookupResolved = "resolved"
	LookupMiss     = "miss"
	LookupError    = "error"
)

func NewSymbolMetrics(reg prometheus.Registerer) *SymbolMetrics {
	m := &SymbolMetrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostboot_symbol_lookups_total",
			Help: "Total number of debug symbol lookups by result",
		}, []string{"result"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostboot_symbol_cache_flushes_total",
			Help: "Total number of symbol cache flushes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Lookups, m.Flushes)
	}
	return m
}

type ModuleMetrics struct {
	Loaded             *prometheus.CounterVec
	LoadErrors         prometheus.Counter
	Bootstrapped       prometheus.Counter
	MissingEntryPoints prometheus.Counter
}

func NewModuleMetrics(reg prometheus.Registerer) *ModuleMetrics {
	m := &ModuleMetrics{
		Loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostboot_modules_loaded_total",
			Help: "Total number of modules loaded into the process",
		}, []string{"kind"}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostboot_module_load_errors_total",
			Help: "Total number of failed module loads",
		}),
		Bootstrapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostboot_modules_bootstrapped_total",
			Help: "Total number of module entry points invoked",
		}),
		MissingEntryPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostboot_entrypoints_missing_total",
			Help: "Total number of loaded modules without a bootstrap entry point",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Loaded, m.LoadErrors, m.Bootstrapped, m.MissingEntryPoints)
	}
	return m
}
