package symbols

import (
	"debug/elf"
	"debug/gosym"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
)

const pageMask = 4096 - 1

// ELFProvider resolves names through the symbol tables of a debug-information ELF file
// that matches the host image: .symtab, .dynsym and, for Go images, .gopclntab.
type ELFProvider struct {
	path      string
	typ       elf.Type
	execProgs []elf.ProgHeader
	names     map[string]uint64
	demangled map[string]uint64

	mu      sync.Mutex
	baseFor *Host
	base    uintptr
	baseErr error
}

// NewELFProvider reads every symbol of the ELF file at path.
// When demangled is set, C++ names are also indexed under their demangled form.
func NewELFProvider(path string, demangled bool) (*ELFProvider, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p := &ELFProvider{
		path:  path,
		typ:   f.Type,
		names: make(map[string]uint64),
	}
	if demangled {
		p.demangled = make(map[string]uint64)
	}
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags&elf.PF_X != 0 {
			p.execProgs = append(p.execProgs, prog.ProgHeader)
		}
	}
	syms, symErr := f.Symbols()
	p.index(syms)
	dyn, _ := f.DynamicSymbols()
	p.index(dyn)
	goErr := p.indexGo(f)
	if len(p.names) == 0 {
		return nil, errors.Errorf("no symbols: symtab: %v, gopclntab: %v", symErr, goErr)
	}
	return p, nil
}

func (p *ELFProvider) index(syms []elf.Symbol) {
	for _, s := range syms {
		if s.Value == 0 || s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}
		if _, ok := p.names[s.Name]; !ok {
			p.names[s.Name] = s.Value
		}
		if p.demangled != nil && strings.HasPrefix(s.Name, "_Z") {
			if d := demangle.Filter(s.Name, demangle.NoClones); d != s.Name {
				if _, ok := p.demangled[d]; !ok {
					p.demangled[d] = s.Value
				}
			}
		}
	}
}

// indexGo adds functions from the Go line table, which survives stripping of .symtab.
func (p *ELFProvider) indexGo(f *elf.File) error {
	text := f.Section(".text")
	pcln := f.Section(".gopclntab")
	if text == nil || pcln == nil {
		return errors.New("not a go image")
	}
	data, err := pcln.Data()
	if err != nil {
		return errors.Wrap(err, "read .gopclntab")
	}
	tab, err := gosym.NewTable(nil, gosym.NewLineTable(data, text.Addr))
	if err != nil {
		return errors.Wrap(err, "parse .gopclntab")
	}
	for _, fn := range tab.Funcs {
		if _, ok := p.names[fn.Name]; !ok && fn.Entry != 0 {
			p.names[fn.Name] = fn.Entry
		}
	}
	return nil
}

func (p *ELFProvider) Kind() string {
	return string(ProviderELF)
}

// Len is the number of indexed names.
func (p *ELFProvider) Len() int {
	return len(p.names) + len(p.demangled)
}

// Symbols lists the indexed names.
func (p *ELFProvider) Symbols() []string {
	out := make([]string, 0, p.Len())
	for n := range p.names {
		out = append(out, n)
	}
	for n := range p.demangled {
		out = append(out, n)
	}
	return out
}

func (p *ELFProvider) Lookup(host *Host, name string) (uintptr, error) {
	v, ok := p.names[name]
	if !ok && p.demangled != nil {
		v, ok = p.demangled[name]
	}
	if !ok {
		return 0, ErrSymbolNotFound
	}
	base, err := p.loadBias(host)
	if err != nil {
		return 0, err
	}
	return base + uintptr(v), nil
}

func (p *ELFProvider) loadBias(host *Host) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseFor != host || host == nil {
		p.base, p.baseErr = findBase(p.typ, p.execProgs, host)
		p.baseFor = host
	}
	return p.base, p.baseErr
}

// findBase computes the difference between link time and run time addresses.
// Non relocatable images are loaded at their link addresses.
func findBase(typ elf.Type, progs []elf.ProgHeader, host *Host) (uintptr, error) {
	if typ == elf.ET_EXEC {
		return 0, nil
	}
	if host == nil {
		return 0, ErrBaseNotFound
	}
	for _, prog := range progs {
		for _, m := range host.Mappings {
			if !m.Exec {
				continue
			}
			if uint64(m.Offset) == prog.Off {
				return m.Start - uintptr(prog.Vaddr), nil
			}
			if uint64(m.Offset) == prog.Off&^pageMask {
				return m.Start - uintptr(prog.Vaddr&^pageMask), nil
			}
		}
	}
	return 0, errors.Wrapf(ErrBaseNotFound, "%s", host.Path)
}
