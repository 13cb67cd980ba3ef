package hostboot

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Root is the installation root of the host.
type Root struct {
	Dir   string
	Steps int //parent directories walked from the start path
}

// MarkerFromModule returns the part of module before the first delimiter, or module itself.
//
//	MarkerFromModule("FactoryGame-Linux-Shipping", "-") == "FactoryGame"
func MarkerFromModule(module, delimiter string) string {
	if delimiter == "" {
		return module
	}
	if i := strings.Index(module, delimiter); i >= 0 {
		return module[:i]
	}
	return module
}

// LocateRoot walks from start towards the filesystem root and returns the first directory that
// contains an entry called marker. It fails with ErrRootNotFound at the filesystem root, or after
// maxSteps parent directories when maxSteps is positive.
func LocateRoot(fs afero.Fs, start, marker string, maxSteps int) (Root, error) {
	if marker == "" {
		return Root{}, errors.Wrap(ErrRootNotFound, "empty marker")
	}
	dir := filepath.Clean(start)
	for steps := 0; ; steps++ {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, marker)); ok {
			return Root{Dir: dir, Steps: steps}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Root{}, errors.Wrapf(ErrRootNotFound, "no %s above %s", marker, start)
		}
		if maxSteps > 0 && steps >= maxSteps {
			return Root{}, errors.Wrapf(ErrRootNotFound, "no %s within %d steps above %s", marker, maxSteps, start)
		}
		dir = parent
	}
}
