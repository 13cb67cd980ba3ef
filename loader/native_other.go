//go:build !(darwin || freebsd || linux)

package loader

import "github.com/pkg/errors"

// NativeBackend is unavailable on this platform.
type NativeBackend struct{}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (NativeBackend) Kind() string {
	return "native"
}

func (NativeBackend) Extensions() []string {
	return []string{".so"}
}

func (NativeBackend) Open(path string) (Handle, error) {
	return nil, errors.Errorf("native modules are not supported: %s", path)
}
