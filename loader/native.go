//go:build darwin || freebsd || linux

package loader

import (
	"github.com/ebitengine/purego"

	"github.com/ZenLiuCN/hostboot/capability"
)

// NativeBackend opens shared libraries with dlopen.
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
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	return &nativeHandle{h: h}, nil
}

type nativeHandle struct {
	h uintptr
}

func (n *nativeHandle) Lookup(symbol string) (uintptr, bool) {
	if n.h == 0 {
		return 0, false
	}
	p, err := purego.Dlsym(n.h, symbol)
	return p, err == nil && p != 0
}

func (n *nativeHandle) EntryPoint(symbol string) (capability.EntryPoint, error) {
	if _, ok := n.Lookup(symbol); ok {
		return nil, ErrForeignEntryPoint
	}
	return nil, ErrNoEntryPoint
}

func (n *nativeHandle) Close() error {
	if n.h == 0 {
		return nil
	}
	err := purego.Dlclose(n.h)
	n.h = 0
	return err
}

func (n *nativeHandle) Kind() string {
	return "native"
}
