/*
Package hostboot bootstraps loader modules inside a host process.

# Sequence

 1. Find the host module among the mappings of the process.
 2. Walk up from the host image until a directory contains the root marker, the host module name
    before its first delimiter ("FactoryGame" for "FactoryGame-Linux-Shipping").
 3. Open the debug symbol provider next to the bootstrapper (hostboot.debug) and build a caching
    [symbols.Resolver] over it.
 4. Load every module found in <root>/loaders, then call the BootstrapModule entry point of each with
    a [capability.Table].

A module that fails to load terminates the process, a module without an entry point is logged and
skipped.

# Modules

Loader modules are Go plugins (.so), relocatable objects linked by [goloader] (.o), or native shared
libraries. A Go module exports

	func BootstrapModule(t capability.Table)

Object modules can be built by the hostboot cli:

	hostboot compile -o mymod.o mymod.go

# Setup

[Attach] runs the bootstrap once per process. It never blocks on a running bootstrap: a module
attaching from its entry point with Table.Context gets nil, any other caller arriving meanwhile,
module initializers included, gets [ErrSetupInProgress]. [Wait] blocks until the bootstrap
finished.

[goloader]: https://github.com/pkujhd/goloader
*/
package hostboot
