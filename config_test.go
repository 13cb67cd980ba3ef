package hostboot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/stretchr/testify/require"

	"github.com/ZenLiuCN/hostboot/symbols"
)

func TestLoadConfig(t *testing.T) {
	f := filepath.Join(t.TempDir(), "hostboot.yaml")
	require.NoError(t, os.WriteFile(f, []byte(`
host_module: FactoryGame-Win64-Shipping
bootstrap_dir: /opt/boot
provider_file: /srv/symbols/FactoryGame.debug
strict: true
extensions: [".so"]
max_root_steps: 8
`), 0o644))
	c := fn.Panic1(LoadConfig(f))
	require.Equal(t, "FactoryGame-Win64-Shipping", c.HostModule)
	require.Equal(t, "FactoryGame", c.RootMarker())
	require.True(t, c.Strict)
	require.True(t, c.Demangle)
	require.Equal(t, []string{".so"}, c.Extensions)
	require.Equal(t, 8, c.MaxRootSteps)
	require.Equal(t, LoadersDirName, c.LoadersDir)
	require.Equal(t, "/srv/symbols/FactoryGame.debug", c.ProviderPath())
	require.Equal(t, "/opt/boot/"+LogFileName, c.logPath())
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	f := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(f, []byte("provider: pdb\n"), 0o644))
	_, err = LoadConfig(f)
	require.ErrorContains(t, err, "unknown provider")

	require.NoError(t, os.WriteFile(f, []byte("host_module: [\n"), 0o644))
	_, err = LoadConfig(f)
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	ok := Config{HostModule: "Game", Provider: symbols.ProviderGoloader, Extensions: []string{".o"}, LoadersDir: "mods"}
	require.NoError(t, ok.Validate())
	for _, c := range []Config{
		{},
		{HostModule: "Game", MaxRootSteps: -1},
		{HostModule: "Game", Extensions: []string{"so"}},
		{HostModule: "Game", Extensions: []string{"."}},
		{HostModule: "Game", LoadersDir: "a/b"},
	} {
		require.Error(t, c.Validate(), "%+v", c)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{HostModule: "Game", Marker: "Root"}.withDefaults()
	require.Equal(t, "Root", c.RootMarker())
	require.Equal(t, 64, c.MaxRootSteps)
	require.Equal(t, symbols.ProviderELF, c.Provider)
	require.Equal(t, []string{".so", ".o"}, c.Extensions)
	require.NotNil(t, c.Exit)
	require.NotNil(t, c.Fs)
	require.NotNil(t, c.Maps)
	require.Len(t, c.backends(), 2)
}
