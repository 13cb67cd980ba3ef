package loader_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZenLiuCN/hostboot/capability"
	. "github.com/ZenLiuCN/hostboot/loader"
	"github.com/ZenLiuCN/hostboot/loader/loadertest"
	"github.com/ZenLiuCN/hostboot/symbols"
)

func noMaps() ([]symbols.Mapping, error) { return nil, nil }

func newLoader(b *loadertest.Backend, flush func()) *Loader {
	return New(Options{Backends: []Backend{b}, Resident: noMaps, Flusher: flush})
}

type named string

func (n named) Name() string { return string(n) }
func (n named) Path() string { return "" }
func (n named) Kind() string { return "" }

func TestLoadModule(t *testing.T) {
	b := loadertest.NewBackend().Add(&loadertest.Module{
		Name:    "modA.so",
		Symbols: map[string]uintptr{"Exported": 0x10},
	})
	l := newLoader(b, nil)

	r, err := l.LoadModule("/game/loaders/modA.so")
	require.NoError(t, err)
	require.Equal(t, "modA.so", r.Name())
	require.Equal(t, "/game/loaders/modA.so", r.Path())
	require.Equal(t, "fake", r.Kind())

	got, ok := l.Module("modA.so")
	require.True(t, ok)
	require.Same(t, r, got)

	p, ok := l.ProcAddress(r, "Exported")
	require.True(t, ok)
	require.Equal(t, uintptr(0x10), p)
	p, ok = l.ProcAddress(named("modA.so"), "Exported")
	require.True(t, ok)
	require.Equal(t, uintptr(0x10), p)
	_, ok = l.ProcAddress(r, "Missing")
	require.False(t, ok)
	_, ok = l.ProcAddress(named("other.so"), "Exported")
	require.False(t, ok)

	_, err = l.EntryPoint(r, capability.EntryPointSymbol)
	require.True(t, errors.Is(err, ErrNoEntryPoint))
}

func TestLoadModuleSameNameOnce(t *testing.T) {
	b := loadertest.NewBackend().Add(&loadertest.Module{Name: "modA.so"})
	l := newLoader(b, nil)

	first, err := l.LoadModule("/a/modA.so")
	require.NoError(t, err)
	_, err = l.LoadModule("/b/modA.so")
	require.True(t, errors.Is(err, ErrAlreadyLoaded))

	require.Len(t, l.Modules(), 1)
	r, _ := l.Module("modA.so")
	require.Same(t, first, r)
	require.Equal(t, []string{"modA.so"}, b.Opened())
}

func TestLoadModuleFailures(t *testing.T) {
	errHeader := errors.New("bad ELF header")
	b := loadertest.NewBackend().Add(&loadertest.Module{Name: "broken.so", Fail: errHeader})
	l := newLoader(b, nil)

	_, err := l.LoadModule("/x/broken.so")
	require.True(t, errors.Is(err, ErrLoad))
	require.True(t, errors.Is(err, errHeader))
	require.Contains(t, err.Error(), "bad ELF header")
	require.Empty(t, l.Modules())

	_, err = l.LoadModule("/x/readme.txt")
	require.True(t, errors.Is(err, ErrUnsupported))
	require.False(t, l.Supports("/x/readme.txt"))
	require.True(t, l.Supports("/x/MOD.SO"))
}

func TestIsModuleLoaded(t *testing.T) {
	b := loadertest.NewBackend().Add(&loadertest.Module{Name: "modA.so"})
	l := New(Options{
		Backends: []Backend{b},
		Resident: func() ([]symbols.Mapping, error) {
			return []symbols.Mapping{{Path: "/usr/lib/libc.so.6"}, {Path: "/game/bin/FactoryGame-Linux-Shipping"}}, nil
		},
	})
	require.False(t, l.IsModuleLoaded("modA.so"))
	_, err := l.LoadModule("/game/loaders/modA.so")
	require.NoError(t, err)
	require.True(t, l.IsModuleLoaded("modA.so"))
	require.True(t, l.IsModuleLoaded("libc.so.6"))
	require.True(t, l.IsModuleLoaded("FactoryGame-Linux-Shipping"))
	require.False(t, l.IsModuleLoaded("libc"))

	broken := New(Options{Resident: func() ([]symbols.Mapping, error) { return nil, errors.New("no procfs") }})
	require.False(t, broken.IsModuleLoaded("libc.so.6"))
}

func TestLoadModuleFromInitializer(t *testing.T) {
	b := loadertest.NewBackend()
	var l *Loader
	var nested, again error
	b.Add(
		&loadertest.Module{Name: "outer.so", OnOpen: func() {
			_, nested = l.LoadModule("/x/inner.so")
			_, again = l.LoadModule("/x/outer.so")
		}},
		&loadertest.Module{Name: "inner.so"},
	)
	l = newLoader(b, nil)
	_, err := l.LoadModule("/x/outer.so")
	require.NoError(t, err)
	require.NoError(t, nested)
	require.True(t, errors.Is(again, ErrAlreadyLoaded))

	var order []string
	for _, r := range l.Modules() {
		order = append(order, r.Name())
	}
	require.Equal(t, []string{"inner.so", "outer.so"}, order)
}

func TestConcurrentLoads(t *testing.T) {
	b := loadertest.NewBackend()
	for i := 0; i < 16; i++ {
		b.Add(&loadertest.Module{Name: fmt.Sprintf("mod%02d.so", i)})
	}
	l := newLoader(b, nil)
	var w sync.WaitGroup
	for i := 0; i < 16; i++ {
		for j := 0; j < 4; j++ {
			w.Add(1)
			go func(i int) {
				defer w.Done()
				_, err := l.LoadModule(fmt.Sprintf("/x/mod%02d.so", i))
				if err != nil {
					assert.True(t, errors.Is(err, ErrAlreadyLoaded))
				}
			}(i)
		}
	}
	w.Wait()
	require.Len(t, l.Modules(), 16)
}

func TestFlushAndClose(t *testing.T) {
	flushed := 0
	b := loadertest.NewBackend().Add(&loadertest.Module{Name: "a.so"}, &loadertest.Module{Name: "b.so"})
	l := newLoader(b, func() { flushed++ })
	l.FlushDebugSymbols()
	require.Equal(t, 1, flushed)

	_, err := l.LoadModule("/x/a.so")
	require.NoError(t, err)
	_, err = l.LoadModule("/x/b.so")
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.Equal(t, []string{"b.so", "a.so"}, b.Closed())
	require.Empty(t, l.Modules())
}

func TestExtensions(t *testing.T) {
	first := loadertest.NewBackend(".so", ".O")
	second := loadertest.NewBackend(".o", ".dylib")
	l := New(Options{Backends: []Backend{first, second}, Resident: noMaps})
	require.Equal(t, []string{".dylib", ".o", ".so"}, l.Extensions())

	first.Add(&loadertest.Module{Name: "m.o"})
	_, err := l.LoadModule("/x/m.o")
	require.NoError(t, err)
	require.Equal(t, []string{"m.o"}, first.Opened())
	require.Empty(t, second.Opened())
}

func TestCapabilitiesDuringClose(t *testing.T) {
	b := loadertest.NewBackend().Add(&loadertest.Module{
		Name:    "modA.so",
		Symbols: map[string]uintptr{"Exported": 0x10},
	})
	l := newLoader(b, nil)
	r, err := l.LoadModule("/x/modA.so")
	require.NoError(t, err)

	stop := make(chan struct{})
	var w sync.WaitGroup
	for i := 0; i < 4; i++ {
		w.Add(1)
		go func() {
			defer w.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if p, ok := l.ProcAddress(r, "Exported"); ok {
					assert.Equal(t, uintptr(0x10), p)
				}
				if _, err := l.EntryPoint(r, capability.EntryPointSymbol); err != nil {
					assert.True(t, errors.Is(err, ErrNoEntryPoint) || errors.Is(err, ErrNotLoaded), "%v", err)
				}
			}
		}()
	}
	require.NoError(t, l.Close())
	close(stop)
	w.Wait()

	_, ok := l.ProcAddress(r, "Exported")
	require.False(t, ok)
	_, err = l.EntryPoint(r, capability.EntryPointSymbol)
	require.True(t, errors.Is(err, ErrNotLoaded))
}
