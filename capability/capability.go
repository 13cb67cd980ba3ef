// Package capability is the surface a bootstrapped module sees.
//
// A module built against this package exports
//
//	func BootstrapModule(t capability.Table)
//
// and receives a Table once, right after it is loaded. The Table is a plain value: the module
// may keep it for the lifetime of the process and call it from any goroutine it creates.
//
// Layout of Table is append-only. Reordering or removing a field breaks every module compiled
// against an earlier layout.
package capability

import (
	"context"
	"unsafe"
)

// Version of the bootstrapper, shared with the host and every module.
const Version = "2.0.4"

// EntryPointSymbol is the exported name a module must provide to be bootstrapped.
const EntryPointSymbol = "BootstrapModule"

type (
	// EntryPoint is the signature of BootstrapModule.
	EntryPoint = func(t Table)
	// Module identifies a module loaded through LoadModule.
	Module interface {
		Name() string //base filename, the registry key
		Path() string //file the module was loaded from
		Kind() string //backend that loaded it
	}
	// Table grants a module access to the bootstrapper's loader and symbol resolver.
	Table struct {
		RootDir           string                                        //host installation root
		LoadModule        func(path string) (Module, error)             //load another module into the process
		ProcAddress       func(m Module, symbol string) (uintptr, bool) //exported symbol of a loaded module
		IsModuleLoaded    func(name string) bool                        //resident check by base filename
		ResolveSymbol     func(name string) (uintptr, bool)             //non-exported host symbol via debug info
		Version           string                                        //bootstrapper version
		FlushDebugSymbols func()                                        //drop the resolver cache
		Context           context.Context                               //setup scope, pass it back when re-entering setup
	}
)

// Compatible reports whether the table was built by a bootstrapper with the given version.
func (t Table) Compatible(version string) bool {
	return t.Version == version
}

// As converts the entry address of a function into a callable value of type T, which must be a func type.
//
// Only use it on code that follows the Go calling convention,
// for example symbols resolved inside the host image or exported by an object module.
func As[T any](addr uintptr) (x T) {
	if addr == 0 {
		return
	}
	holder := &addr
	x = *(*T)(unsafe.Pointer(&holder))
	return
}
