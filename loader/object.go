package loader

import (
	"os"
	"strings"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/pkg/errors"
	"github.com/pkujhd/goloader"

	"github.com/ZenLiuCN/hostboot/capability"
)

// ObjectBackend links relocatable go object files (.o) and archives (.a) into the process with goloader.
//
// Every linked module publishes its exported symbols to a table shared by the backend,
// so a module may depend on symbols of a module linked before it.
type ObjectBackend struct {
	pkg   string
	types []any

	once    sync.Once
	initErr error
	mu      sync.Mutex
	symbols map[string]uintptr
}

// NewObjectBackend creates a backend linking objects compiled as package pkg ("main" when empty).
// types are registered so objects share the host's type descriptors for them.
func NewObjectBackend(pkg string, types ...any) *ObjectBackend {
	if pkg == "" {
		pkg = "main"
	}
	var tab capability.Table
	var mod capability.Module
	return &ObjectBackend{pkg: pkg, types: append([]any{&tab, &mod}, types...)}
}

func (b *ObjectBackend) Kind() string {
	return "object"
}

func (b *ObjectBackend) Extensions() []string {
	return []string{".o", ".a"}
}

func (b *ObjectBackend) init() {
	b.symbols = make(map[string]uintptr)
	if b.initErr = goloader.RegSymbol(b.symbols); b.initErr != nil {
		return
	}
	goloader.RegTypes(b.symbols, b.types...)
}

// Symbols lists the names the next object may link against.
func (b *ObjectBackend) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn.MapKeys(b.symbols)
}

func (b *ObjectBackend) Open(path string) (Handle, error) {
	b.once.Do(b.init)
	if b.initErr != nil {
		return nil, errors.Wrap(b.initErr, "register host symbols")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	linker, err := goloader.ReadObj(path, b.pkg)
	if err != nil {
		return nil, errors.Wrap(err, "read object")
	}
	if missing := goloader.UnresolvedSymbols(linker, b.symbols); len(missing) > 0 {
		return nil, errors.Errorf("unresolved symbols: %s", strings.Join(missing, ", "))
	}
	module, err := goloader.Load(linker, b.symbols)
	if err != nil {
		return nil, errors.Wrap(err, "link object")
	}
	for s, u := range module.Syms {
		if _, ok := b.symbols[s]; !ok {
			b.symbols[s] = u
		}
	}
	return &objectHandle{backend: b, linker: linker, module: module}, nil
}

type objectHandle struct {
	backend *ObjectBackend
	linker  *goloader.Linker
	module  *goloader.CodeModule
}

func (h *objectHandle) qualify(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return h.backend.pkg + "." + sym
	}
	return sym
}

func (h *objectHandle) Lookup(symbol string) (uintptr, bool) {
	if h.module == nil {
		return 0, false
	}
	p, ok := h.module.Syms[h.qualify(symbol)]
	return p, ok && p != 0
}

func (h *objectHandle) EntryPoint(symbol string) (capability.EntryPoint, error) {
	p, ok := h.Lookup(symbol)
	if !ok {
		return nil, ErrNoEntryPoint
	}
	return capability.As[capability.EntryPoint](p), nil
}

func (h *objectHandle) Close() error {
	if h.module == nil {
		return nil
	}
	b := h.backend
	b.mu.Lock()
	for s, u := range h.module.Syms {
		if x, ok := b.symbols[s]; ok && x == u {
			delete(b.symbols, s)
		}
	}
	b.mu.Unlock()
	h.module.Unload()
	h.module = nil
	h.linker = nil
	return nil
}
