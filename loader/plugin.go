package loader

import (
	"fmt"
	"plugin"
	"reflect"

	"github.com/pkg/errors"

	"github.com/ZenLiuCN/hostboot/capability"
)

// PluginBackend opens go plugins. Shared libraries that are not go plugins are handed to the
// native fallback when one is configured.
type PluginBackend struct {
	native Backend
}

func NewPluginBackend(native Backend) *PluginBackend {
	return &PluginBackend{native: native}
}

func (b *PluginBackend) Kind() string {
	return "plugin"
}

func (b *PluginBackend) Extensions() []string {
	return []string{".so"}
}

func (b *PluginBackend) Open(path string) (Handle, error) {
	p, err := plugin.Open(path)
	if err == nil {
		return &pluginHandle{lookup: p.Lookup}, nil
	}
	if b.native == nil {
		return nil, err
	}
	h, nerr := b.native.Open(path)
	if nerr != nil {
		return nil, fmt.Errorf("plugin: %w; native: %w", err, nerr)
	}
	return h, nil
}

type pluginHandle struct {
	lookup func(symbol string) (plugin.Symbol, error)
}

func (h *pluginHandle) Lookup(symbol string) (uintptr, bool) {
	s, err := h.lookup(symbol)
	if err != nil {
		return 0, false
	}
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.UnsafePointer:
		return v.Pointer(), v.Pointer() != 0
	}
	return 0, false
}

func (h *pluginHandle) EntryPoint(symbol string) (capability.EntryPoint, error) {
	s, err := h.lookup(symbol)
	if err != nil {
		return nil, ErrNoEntryPoint
	}
	switch f := s.(type) {
	case func(capability.Table):
		return f, nil
	case *func(capability.Table):
		if f != nil && *f != nil {
			return *f, nil
		}
	}
	return nil, errors.Wrapf(ErrEntryPointType, "%s is %T", symbol, s)
}

// Close is a no-op: go plugins cannot be unloaded.
func (h *pluginHandle) Close() error {
	return nil
}
