// Package sample is a loader module. Build it as an object module with
//
//	hostboot compile -o sample.o testdata/sample/sample.go
//
// or as a plugin with go build -buildmode=plugin, then drop it into <root>/loaders.
package sample

import (
	"github.com/ZenLiuCN/hostboot/capability"
)

var table capability.Table

// BootstrapModule is called once by the bootstrapper.
func BootstrapModule(t capability.Table) {
	if !t.Compatible(capability.Version) {
		return
	}
	table = t
	if p, ok := t.ResolveSymbol("main.main"); ok {
		println("sample: main.main at", p, "root", t.RootDir)
	}
}

// Loaded reports whether the host mapped a module called name.
func Loaded(name string) bool {
	return table.IsModuleLoaded != nil && table.IsModuleLoaded(name)
}
