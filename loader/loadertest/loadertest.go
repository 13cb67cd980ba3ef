// Package loadertest provides an in-memory module backend for tests.
package loadertest

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ZenLiuCN/hostboot/capability"
	"github.com/ZenLiuCN/hostboot/loader"
)

// Module describes what opening a file called Name yields.
type Module struct {
	Name    string
	Entry   capability.EntryPoint // nil: no entry point
	Symbols map[string]uintptr
	Fail    error  // returned by Open
	OnOpen  func() // runs inside Open, like a module initializer
}

// Backend serves Modules by base filename.
type Backend struct {
	Exts []string

	mu      sync.Mutex
	modules map[string]*Module
	opened  []string
	closed  []string
}

func NewBackend(exts ...string) *Backend {
	if len(exts) == 0 {
		exts = []string{".so"}
	}
	return &Backend{Exts: exts, modules: make(map[string]*Module)}
}

// Add registers modules.
func (b *Backend) Add(mods ...*Module) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range mods {
		b.modules[m.Name] = m
	}
	return b
}

func (b *Backend) Kind() string { return "fake" }

func (b *Backend) Extensions() []string { return b.Exts }

func (b *Backend) Open(path string) (loader.Handle, error) {
	name := filepath.Base(path)
	b.mu.Lock()
	m, ok := b.modules[name]
	b.opened = append(b.opened, name)
	b.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("%s: no such module", path)
	}
	if m.Fail != nil {
		return nil, m.Fail
	}
	if m.OnOpen != nil {
		m.OnOpen()
	}
	return &handle{b: b, m: m}, nil
}

// Opened lists the base names passed to Open, in order.
func (b *Backend) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// Closed lists the base names of closed handles, in order.
func (b *Backend) Closed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

type handle struct {
	b *Backend
	m *Module
}

func (h *handle) Lookup(symbol string) (uintptr, bool) {
	p, ok := h.m.Symbols[symbol]
	return p, ok
}

func (h *handle) EntryPoint(symbol string) (capability.EntryPoint, error) {
	if symbol != capability.EntryPointSymbol || h.m.Entry == nil {
		return nil, loader.ErrNoEntryPoint
	}
	return h.m.Entry, nil
}

func (h *handle) Close() error {
	h.b.mu.Lock()
	h.b.closed = append(h.b.closed, h.m.Name)
	h.b.mu.Unlock()
	return nil
}
