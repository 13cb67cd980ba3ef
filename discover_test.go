package hostboot

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, f := range []string{"modB.so", "modA.so", "modC.O", "notes.txt", "modD.so.bak", "Makefile"} {
		require.NoError(t, afero.WriteFile(fs, "/game/loaders/"+f, []byte("x"), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/game/loaders/nested.so", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/game/loaders/nested.so/inner.so", []byte("x"), 0o644))

	files, err := Discover(fs, "/game/loaders", []string{".so", ".o"})
	require.NoError(t, err)
	require.Equal(t, []string{"/game/loaders/modA.so", "/game/loaders/modB.so", "/game/loaders/modC.O"}, files)

	files, err = Discover(fs, "/game/loaders", []string{".txt"})
	require.NoError(t, err)
	require.Equal(t, []string{"/game/loaders/notes.txt"}, files)
}

func TestDiscoverCreatesDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	files, err := Discover(fs, "/game/loaders", []string{".so"})
	require.NoError(t, err)
	require.Empty(t, files)
	ok, err := afero.DirExists(fs, "/game/loaders")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDiscoverReadOnly(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := Discover(fs, "/game/loaders", []string{".so"})
	require.Error(t, err)
}
