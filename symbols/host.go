package symbols

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

var (
	// ErrHostNotFound occurs when no mapping of the process belongs to the host module.
	ErrHostNotFound = errors.New("host module not found in process")
)

// Mapping is one file backed region of the process address space.
type Mapping struct {
	Start, End uintptr
	Offset     int64
	Exec       bool
	Path       string
}

// MapsReader lists the file backed mappings of the current process.
type MapsReader func() ([]Mapping, error)

// SelfMaps reads /proc/self/maps.
func SelfMaps() ([]Mapping, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, errors.Wrap(err, "open /proc/self")
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, errors.Wrap(err, "read /proc/self/maps")
	}
	out := make([]Mapping, 0, len(maps))
	for _, m := range maps {
		if m.Pathname == "" || m.Pathname[0] != '/' {
			continue
		}
		out = append(out, Mapping{
			Start:  m.StartAddr,
			End:    m.EndAddr,
			Offset: m.Offset,
			Exec:   m.Perms != nil && m.Perms.Execute,
			Path:   m.Pathname,
		})
	}
	return out, nil
}

// Host is the running image the bootstrapper is embedded in.
type Host struct {
	Pid      int
	Name     string    //module name, the base name of the image file
	Path     string    //on-disk image
	Mappings []Mapping //mappings of Path, sorted by address
}

// OpenHost finds the mappings of the module called name in the current process.
func OpenHost(name string, maps MapsReader) (*Host, error) {
	if maps == nil {
		maps = SelfMaps
	}
	all, err := maps()
	if err != nil {
		return nil, err
	}
	h := &Host{Pid: os.Getpid(), Name: name}
	for _, m := range all {
		if filepath.Base(m.Path) != name {
			continue
		}
		if h.Path == "" {
			h.Path = m.Path
		}
		if m.Path == h.Path {
			h.Mappings = append(h.Mappings, m)
		}
	}
	if len(h.Mappings) == 0 {
		return nil, errors.Wrapf(ErrHostNotFound, "module %s", name)
	}
	sort.Slice(h.Mappings, func(i, j int) bool { return h.Mappings[i].Start < h.Mappings[j].Start })
	return h, nil
}

// Base is the lowest mapped address of the image.
func (h *Host) Base() uintptr {
	if h == nil || len(h.Mappings) == 0 {
		return 0
	}
	return h.Mappings[0].Start
}

// ExecMapping returns the first executable mapping of the image.
func (h *Host) ExecMapping() (Mapping, bool) {
	for _, m := range h.Mappings {
		if m.Exec {
			return m, true
		}
	}
	return Mapping{}, false
}

// Contains reports whether addr falls inside the image.
func (h *Host) Contains(addr uintptr) bool {
	for _, m := range h.Mappings {
		if addr >= m.Start && addr < m.End {
			return true
		}
	}
	return false
}
