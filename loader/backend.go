package loader

import (
	"github.com/pkg/errors"

	"github.com/ZenLiuCN/hostboot/capability"
)

var (
	// ErrNoEntryPoint occurs when a module does not export the requested entry point.
	ErrNoEntryPoint = errors.New("entry point not found")
	// ErrEntryPointType occurs when the entry point symbol has an unexpected type.
	ErrEntryPointType = errors.New("entry point has an unexpected type")
	// ErrForeignEntryPoint occurs when the entry point lives in a native library and cannot be called from Go.
	ErrForeignEntryPoint = errors.New("entry point is not a go function")
)

type (
	// Backend opens one family of module files.
	Backend interface {
		Kind() string
		Extensions() []string // lower case, with the leading dot
		Open(path string) (Handle, error)
	}
	// Handle is an opened module.
	Handle interface {
		Lookup(symbol string) (uintptr, bool)                    //exported symbol address
		EntryPoint(symbol string) (capability.EntryPoint, error) //typed entry point
		Close() error                                            //release at process teardown
	}
)
