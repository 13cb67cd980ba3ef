package symbols

import (
	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
)

// GoloaderProvider maps the symbols of a Go image file onto the running process with goloader.
// It only serves hosts that are Go programs built from the same sources as the file.
type GoloaderProvider struct {
	syms map[string]uintptr
}

// NewGoloaderProvider registers every symbol found in the image at path.
func NewGoloaderProvider(path string) (*GoloaderProvider, error) {
	syms := make(map[string]uintptr)
	if err := goloader.RegSymbolWithPath(syms, path); err != nil {
		return nil, err
	}
	return &GoloaderProvider{syms: syms}, nil
}

func (g *GoloaderProvider) Kind() string {
	return string(ProviderGoloader)
}

// Symbols lists the registered names.
func (g *GoloaderProvider) Symbols() []string {
	return fn.MapKeys(g.syms)
}

func (g *GoloaderProvider) Lookup(_ *Host, name string) (uintptr, error) {
	if p, ok := g.syms[name]; ok && p != 0 {
		return p, nil
	}
	return 0, ErrSymbolNotFound
}
