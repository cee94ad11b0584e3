package deps

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/repltools/goeval/pkg/state"
)

// Lockfile records the dependency pins a session's workspace resolved, so a
// floating request repeats to the same version while the lockfile exists.
type Lockfile struct {
	Path      string
	Generated string
	Tool      string
	Pins      []state.DependencySpec
}

type lockfileDisk struct {
	Generated string                 `yaml:"generated"`
	Tool      string                 `yaml:"tool"`
	Pins      []state.DependencySpec `yaml:"pins"`
}

// NewLockfile constructs an empty lockfile stamped for tool.
func NewLockfile(tool string) *Lockfile {
	return &Lockfile{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Tool:      tool,
		Pins:      []state.DependencySpec{},
	}
}

// Pin records or replaces the pin for spec.Path.
func (l *Lockfile) Pin(spec state.DependencySpec) {
	for i := range l.Pins {
		if l.Pins[i].Path == spec.Path {
			l.Pins[i] = spec
			return
		}
	}
	l.Pins = append(l.Pins, spec)
}

// Lookup returns the recorded pin for a module path.
func (l *Lockfile) Lookup(path string) (state.DependencySpec, bool) {
	if l == nil {
		return state.DependencySpec{}, false
	}
	for _, pin := range l.Pins {
		if pin.Path == path {
			return pin, true
		}
	}
	return state.DependencySpec{}, false
}

func (l *Lockfile) normalize() {
	sort.Slice(l.Pins, func(i, j int) bool {
		return l.Pins[i].Path < l.Pins[j].Path
	})
}

// LoadLockfile parses a lockfile from disk.
func LoadLockfile(path string) (*Lockfile, error) {
	if path == "" {
		return nil, fmt.Errorf("deps: empty lockfile path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("deps: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var raw lockfileDisk
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("deps: parse %s: %w", abs, err)
	}
	lock := &Lockfile{
		Path:      abs,
		Generated: raw.Generated,
		Tool:      raw.Tool,
		Pins:      raw.Pins,
	}
	lock.normalize()
	return lock, nil
}

// WriteLockfile serialises the lockfile, refreshing its timestamp.
func WriteLockfile(lock *Lockfile, path string) error {
	if lock == nil {
		return fmt.Errorf("deps: nil lockfile")
	}
	if path == "" {
		if lock.Path == "" {
			return fmt.Errorf("deps: missing lockfile path")
		}
		path = lock.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("deps: resolve %s: %w", path, err)
	}
	lock.Path = abs
	lock.Generated = time.Now().UTC().Format(time.RFC3339)
	lock.normalize()

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	disk := lockfileDisk{Generated: lock.Generated, Tool: lock.Tool, Pins: lock.Pins}
	if err := encoder.Encode(&disk); err != nil {
		return fmt.Errorf("deps: encode %s: %w", abs, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("deps: encode %s: %w", abs, err)
	}
	if err := os.WriteFile(abs, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("deps: write %s: %w", abs, err)
	}
	return nil
}
