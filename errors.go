package hostboot

import (
	"github.com/pkg/errors"

	"github.com/ZenLiuCN/hostboot/symbols"
)

var (
	// ErrRootNotFound occurs when no ancestor of the host image contains the root marker.
	ErrRootNotFound = errors.New("host root not found")
	// ErrModuleLoad occurs when a discovered module fails to load. It aborts the bootstrap.
	ErrModuleLoad = errors.New("loader module failed to load")
	// ErrHostNotFound occurs when the host module is not mapped into the process.
	ErrHostNotFound = symbols.ErrHostNotFound
	// ErrProviderMissing occurs when the debug symbol provider file does not exist.
	ErrProviderMissing = symbols.ErrProviderMissing
	// ErrProviderLoad occurs when the debug symbol provider cannot be read.
	ErrProviderLoad = symbols.ErrProviderLoad
)
