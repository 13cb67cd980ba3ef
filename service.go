package hostboot

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/ZenLiuCN/hostboot/capability"
	"github.com/ZenLiuCN/hostboot/loader"
	"github.com/ZenLiuCN/hostboot/metrics"
	"github.com/ZenLiuCN/hostboot/symbols"
)

// Version of the capability table handed to modules.
const Version = capability.Version

// Service is a bootstrapped process: the host image, its symbol resolver and the loaded modules.
type Service struct {
	cfg     Config
	logger  log.Logger
	closer  io.Closer
	metrics *metrics.Metrics

	host     *symbols.Host
	root     Root
	resolver *symbols.Resolver
	loader   *loader.Loader
	report   Report
}

func newService(cfg Config) *Service {
	cfg = cfg.withDefaults()
	logger, closer := newLogger(cfg)
	return &Service{
		cfg:     cfg,
		logger:  logger,
		closer:  closer,
		metrics: metrics.New(cfg.Registerer),
	}
}

func (s *Service) start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.fatal(err)
		}
	}()
	if err = s.cfg.Validate(); err != nil {
		return
	}
	if s.host, err = symbols.OpenHost(s.cfg.HostModule, s.cfg.Maps); err != nil {
		return
	}
	level.Info(s.logger).Log("msg", "host module found", "module", s.host.Name, "path", s.host.Path)
	if s.root, err = LocateRoot(s.cfg.Fs, s.host.Path, s.cfg.RootMarker(), s.cfg.MaxRootSteps); err != nil {
		return
	}
	level.Info(s.logger).Log("msg", "host root located", "dir", s.root.Dir, "steps", s.root.Steps)
	provider := s.cfg.SymbolProvider
	if provider == nil {
		path := s.cfg.ProviderPath()
		if provider, err = symbols.OpenProvider(path, symbols.ProviderOptions{Kind: s.cfg.Provider, Demangle: s.cfg.Demangle}); err != nil {
			return
		}
		level.Info(s.logger).Log("msg", "debug symbols loaded", "file", path, "kind", provider.Kind())
	}
	s.resolver = symbols.NewResolver(s.host, provider, symbols.Options{
		Strict:  s.cfg.Strict,
		Fatal:   s.fatal,
		Logger:  s.logger,
		Metrics: s.metrics.Symbols,
	})
	s.loader = loader.New(loader.Options{
		Backends: s.cfg.backends(),
		Resident: s.cfg.Maps,
		Flusher:  s.resolver.Flush,
		Logger:   s.logger,
		Metrics:  s.metrics.Modules,
	})
	s.report, err = s.bootstrap(ctx)
	if err == nil {
		level.Info(s.logger).Log("msg", "bootstrap finished",
			"loaded", len(s.report.Loaded), "bootstrapped", len(s.report.Bootstrapped), "skipped", len(s.report.Skipped))
	}
	return
}

// fatal logs err and terminates the process with status 1.
func (s *Service) fatal(err error) {
	level.Error(s.logger).Log("msg", "fatal bootstrap error", "err", err)
	s.cfg.Exit(1)
}

// Table is the capability table handed to entry points. ctx is carried in Table.Context.
func (s *Service) Table(ctx context.Context) capability.Table {
	return capability.Table{
		RootDir: s.root.Dir,
		LoadModule: func(path string) (capability.Module, error) {
			m, err := s.loader.LoadModule(path)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		ProcAddress:       s.loader.ProcAddress,
		IsModuleLoaded:    s.loader.IsModuleLoaded,
		ResolveSymbol:     s.resolver.Resolve,
		Version:           Version,
		FlushDebugSymbols: s.loader.FlushDebugSymbols,
		Context:           ctx,
	}
}

func (s *Service) Host() *symbols.Host         { return s.host }
func (s *Service) Root() Root                  { return s.root }
func (s *Service) Resolver() *symbols.Resolver { return s.resolver }
func (s *Service) Loader() *loader.Loader      { return s.loader }
func (s *Service) Report() Report              { return s.report }
func (s *Service) Logger() log.Logger          { return s.logger }

// Close unloads every module and closes the log file.
func (s *Service) Close() error {
	var errs *multierror.Error
	if s.loader != nil {
		errs = multierror.Append(errs, s.loader.Close())
	}
	errs = multierror.Append(errs, s.closer.Close())
	return errs.ErrorOrNil()
}

// Bootstrapper sets a process up once.
type Bootstrapper struct {
	gate Gate
	svc  atomic.Pointer[Service]
}

// Setup runs the bootstrap with cfg on its first call and returns its outcome to later calls.
// It never blocks on a bootstrap in progress: such calls return the Service being set up together
// with ErrSetupInProgress, or a nil error when made with the context handed to entry points.
// The Service of an unfinished bootstrap is only safe to use from the bootstrapping goroutine.
//
// A fatal error is logged and handed to Config.Exit with status 1 before Setup returns it.
func (b *Bootstrapper) Setup(ctx context.Context, cfg Config) (*Service, error) {
	_, err := b.gate.Do(ctx, func(ctx context.Context) error {
		svc := newService(cfg)
		b.svc.Store(svc)
		return svc.start(ctx)
	})
	return b.svc.Load(), err
}

// Wait blocks until the bootstrap finished or ctx is done.
func (b *Bootstrapper) Wait(ctx context.Context) (*Service, error) {
	err := b.gate.Wait(ctx)
	return b.svc.Load(), err
}

// Done reports whether Setup has completed.
func (b *Bootstrapper) Done() bool {
	return b.gate.Done()
}

var process Bootstrapper

// Attach bootstraps the process with the configuration of its first caller.
// Calls made while the bootstrap runs, module initializers included, get ErrSetupInProgress.
func Attach(ctx context.Context, cfg Config) (*Service, error) {
	return process.Setup(ctx, cfg)
}

// Wait blocks until the process bootstrap started by Attach finished.
func Wait(ctx context.Context) (*Service, error) {
	return process.Wait(ctx)
}
