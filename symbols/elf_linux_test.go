package symbols

import (
	"debug/elf"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

//go:noinline
func probeTarget() string {
	return "probe"
}

const probeSymbol = "github.com/ZenLiuCN/hostboot/symbols.probeTarget"

func openSelf(t *testing.T) (*Host, string) {
	exe, err := os.Executable()
	require.NoError(t, err)
	host, err := OpenHost(filepath.Base(exe), SelfMaps)
	require.NoError(t, err)
	return host, exe
}

func TestOpenHostSelf(t *testing.T) {
	host, exe := openSelf(t)
	require.Equal(t, os.Getpid(), host.Pid)
	require.Equal(t, filepath.Base(exe), host.Name)
	require.NotZero(t, host.Base())
	_, ok := host.ExecMapping()
	require.True(t, ok)
	require.True(t, host.Contains(reflect.ValueOf(probeTarget).Pointer()))
}

func TestOpenHostMissing(t *testing.T) {
	_, err := OpenHost("FactoryGame-Linux-Shipping", SelfMaps)
	require.True(t, errors.Is(err, ErrHostNotFound))
}

func TestELFProviderResolvesLiveAddress(t *testing.T) {
	host, exe := openSelf(t)
	p, err := NewELFProvider(exe, true)
	require.NoError(t, err)
	require.NotZero(t, p.Len())

	r := NewResolver(host, p, Options{})
	addr, ok := r.Resolve(probeSymbol)
	require.True(t, ok)
	require.Equal(t, reflect.ValueOf(probeTarget).Pointer(), addr)

	_, ok = r.Resolve("github.com/ZenLiuCN/hostboot/symbols.noSuchFunction")
	require.False(t, ok)
}

func TestOpenProviderErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenProvider(filepath.Join(dir, "hostboot.debug"), ProviderOptions{})
	require.True(t, errors.Is(err, ErrProviderMissing))

	bad := filepath.Join(dir, "bad.debug")
	require.NoError(t, os.WriteFile(bad, []byte("not an elf"), 0o644))
	_, err = OpenProvider(bad, ProviderOptions{Kind: ProviderELF})
	require.True(t, errors.Is(err, ErrProviderLoad))
	var format *elf.FormatError
	require.True(t, errors.As(err, &format), "%v", err)

	_, err = OpenProvider(bad, ProviderOptions{Kind: "pdb"})
	require.True(t, errors.Is(err, ErrProviderLoad))
}

func TestFindBase(t *testing.T) {
	progs := []elf.ProgHeader{{Type: elf.PT_LOAD, Flags: elf.PF_X | elf.PF_R, Off: 0x1000, Vaddr: 0x1000}}
	host := &Host{Path: "/opt/game/bin/game", Mappings: []Mapping{
		{Start: 0x7f0000000000, End: 0x7f0000001000, Offset: 0, Path: "/opt/game/bin/game"},
		{Start: 0x7f0000001000, End: 0x7f0000005000, Offset: 0x1000, Exec: true, Path: "/opt/game/bin/game"},
	}}
	base, err := findBase(elf.ET_DYN, progs, host)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x7f0000000000), base)

	base, err = findBase(elf.ET_EXEC, progs, host)
	require.NoError(t, err)
	require.Zero(t, base)

	_, err = findBase(elf.ET_DYN, []elf.ProgHeader{{Type: elf.PT_LOAD, Flags: elf.PF_X, Off: 0x9000, Vaddr: 0x9000}}, host)
	require.True(t, errors.Is(err, ErrBaseNotFound))
}
