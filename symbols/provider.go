package symbols

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrSymbolNotFound is the soft miss of a provider lookup.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrProviderMissing occurs when the debug symbol provider file does not exist.
	ErrProviderMissing = errors.New("debug symbol provider missing")
	// ErrProviderLoad occurs when the debug symbol provider file exists but cannot be used.
	ErrProviderLoad = errors.New("debug symbol provider failed to load")
	// ErrBaseNotFound occurs when the load bias of the host cannot be computed from its mappings.
	ErrBaseNotFound = errors.New("image base not found")
)

// Provider maps symbol names to addresses inside a live host image using the image's debug information.
type Provider interface {
	// Kind names the implementation.
	Kind() string
	// Lookup returns the address of name inside host, or ErrSymbolNotFound.
	Lookup(host *Host, name string) (uintptr, error)
}

// ProviderKind selects a Provider implementation.
type ProviderKind string

const (
	ProviderELF      ProviderKind = "elf"
	ProviderGoloader ProviderKind = "goloader"
)

// ProviderOptions configures OpenProvider.
type ProviderOptions struct {
	Kind     ProviderKind
	Demangle bool
}

// OpenProvider opens the provider file at path.
// A missing file is reported as ErrProviderMissing, every other failure as ErrProviderLoad.
func OpenProvider(path string, opt ProviderOptions) (Provider, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrProviderMissing, "expected at %s", path)
		}
		return nil, fmt.Errorf("%s: %w: %w", path, ErrProviderLoad, err)
	}
	var (
		p   Provider
		err error
	)
	switch opt.Kind {
	case ProviderGoloader:
		p, err = NewGoloaderProvider(path)
	case ProviderELF, "":
		p, err = NewELFProvider(path, opt.Demangle)
	default:
		return nil, errors.Wrapf(ErrProviderLoad, "unknown provider kind %q", opt.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrProviderLoad, err)
	}
	return p, nil
}
