package hostboot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ZenLiuCN/hostboot/loader"
	"github.com/ZenLiuCN/hostboot/symbols"
)

const (
	// ProviderFileName is the debug symbol provider expected next to the bootstrapper.
	ProviderFileName = "hostboot.debug"
	// LoadersDirName is the directory under the host root holding the modules to bootstrap.
	LoadersDirName = "loaders"
	// LogFileName is the log written next to the bootstrapper.
	LogFileName = "hostboot.log"
)

// Config of a bootstrap. Zero fields take the values of DefaultConfig.
type Config struct {
	HostModule    string               `yaml:"host_module"`      //module name of the host image, defaults to the executable name
	Delimiter     string               `yaml:"marker_delimiter"` //the root marker is the host module name up to this delimiter
	Marker        string               `yaml:"marker"`           //explicit root marker, overrides Delimiter
	MaxRootSteps  int                  `yaml:"max_root_steps"`   //upper bound of the upward root walk
	BootstrapDir  string               `yaml:"bootstrap_dir"`    //directory of the bootstrapper, defaults to the executable directory
	ProviderFile  string               `yaml:"provider_file"`    //relative to BootstrapDir unless absolute
	Provider      symbols.ProviderKind `yaml:"provider"`
	Demangle      bool                 `yaml:"demangle"`
	Strict        bool                 `yaml:"strict"` //unresolved symbols terminate the process
	LoadersDir    string               `yaml:"loaders_dir"`
	Extensions    []string             `yaml:"extensions"`
	ObjectPackage string               `yaml:"object_package"` //package path object modules are compiled with
	LogFile       string               `yaml:"log_file"`       //relative to BootstrapDir unless absolute
	Debug         bool                 `yaml:"debug"`

	Exit           func(code int)        `yaml:"-"` //process termination, defaults to os.Exit
	Registerer     prometheus.Registerer `yaml:"-"`
	Fs             afero.Fs              `yaml:"-"` //filesystem of root location and discovery
	Logger         log.Logger            `yaml:"-"` //replaces the log file
	Backends       []loader.Backend      `yaml:"-"`
	Maps           symbols.MapsReader    `yaml:"-"`
	SymbolProvider symbols.Provider      `yaml:"-"` //replaces the provider file
}

// DefaultConfig derives the host from the running executable.
func DefaultConfig() Config {
	c := Config{
		Delimiter:     "-",
		MaxRootSteps:  64,
		ProviderFile:  ProviderFileName,
		Provider:      symbols.ProviderELF,
		Demangle:      true,
		LoadersDir:    LoadersDirName,
		Extensions:    []string{".so", ".o"},
		ObjectPackage: "main",
		LogFile:       LogFileName,
	}
	if exe, err := os.Executable(); err == nil {
		c.HostModule = filepath.Base(exe)
		c.BootstrapDir = filepath.Dir(exe)
	}
	return c
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (c Config, err error) {
	c = DefaultConfig()
	var b []byte
	if b, err = os.ReadFile(path); err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, errors.Wrapf(err, "parse config %s", path)
	}
	return c, c.Validate()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HostModule == "" {
		c.HostModule = d.HostModule
	}
	if c.Delimiter == "" {
		c.Delimiter = d.Delimiter
	}
	if c.MaxRootSteps == 0 {
		c.MaxRootSteps = d.MaxRootSteps
	}
	if c.BootstrapDir == "" {
		c.BootstrapDir = d.BootstrapDir
	}
	if c.ProviderFile == "" {
		c.ProviderFile = d.ProviderFile
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.LoadersDir == "" {
		c.LoadersDir = d.LoadersDir
	}
	if len(c.Extensions) == 0 {
		c.Extensions = d.Extensions
	}
	if c.ObjectPackage == "" {
		c.ObjectPackage = d.ObjectPackage
	}
	if c.LogFile == "" {
		c.LogFile = d.LogFile
	}
	if c.Exit == nil {
		c.Exit = os.Exit
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.Maps == nil {
		c.Maps = symbols.SelfMaps
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.HostModule == "" {
		return errors.New("config: host_module is required")
	}
	if c.MaxRootSteps < 0 {
		return errors.Errorf("config: max_root_steps must not be negative, got %d", c.MaxRootSteps)
	}
	switch c.Provider {
	case "", symbols.ProviderELF, symbols.ProviderGoloader:
	default:
		return errors.Errorf("config: unknown provider %q", c.Provider)
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return errors.Errorf("config: extension %q must start with a dot", ext)
		}
	}
	if strings.ContainsRune(c.LoadersDir, filepath.Separator) {
		return errors.Errorf("config: loaders_dir %q must be a single directory name", c.LoadersDir)
	}
	return nil
}

// RootMarker is the name whose presence identifies the host root directory.
func (c Config) RootMarker() string {
	if c.Marker != "" {
		return c.Marker
	}
	return MarkerFromModule(c.HostModule, c.Delimiter)
}

// ProviderPath is the debug symbol provider file.
func (c Config) ProviderPath() string {
	return c.under(c.ProviderFile)
}

func (c Config) logPath() string {
	return c.under(c.LogFile)
}

func (c Config) under(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BootstrapDir, p)
}

func (c Config) backends() []loader.Backend {
	if len(c.Backends) > 0 {
		return c.Backends
	}
	return []loader.Backend{
		loader.NewObjectBackend(c.ObjectPackage),
		loader.NewPluginBackend(loader.NewNativeBackend()),
	}
}
