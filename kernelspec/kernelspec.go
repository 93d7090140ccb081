// Package kernelspec discovers installed kernel specifications.
//
// A kernel specification is a directory holding a kernel.json file that
// says how to launch one kind of kernel: the argv to run, the display
// name, the language, and how the kernel wants to be interrupted. Specs
// are searched for under kernels/<name>/ in the standard data
// directories, JUPYTER_PATH entries first.
package kernelspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// ErrNotFound indicates no installed specification matches the
// requested name.
var ErrNotFound = errors.New("kernelspec: spec not found")

// Interrupt modes a specification can declare.
const (
	// InterruptSignal interrupts the kernel with SIGINT. The default.
	InterruptSignal = "signal"

	// InterruptMessage interrupts the kernel with an interrupt_request
	// on the control channel.
	InterruptMessage = "message"
)

// Spec is one installed kernel specification.
type Spec struct {
	// Name is the directory name the spec was found under; it is the
	// name kernels are launched by.
	Name string `json:"-"`

	// ResourceDir is the directory holding kernel.json and the spec's
	// other resources (logos, scripts).
	ResourceDir string `json:"-"`

	// Argv is the command line that launches the kernel. The literal
	// argument "{connection_file}" is replaced with the path of the
	// connection file at launch.
	Argv []string `json:"argv"`

	// DisplayName is the human-readable kernel name.
	DisplayName string `json:"display_name"`

	// Language is the language the kernel executes.
	Language string `json:"language"`

	// InterruptMode is InterruptSignal or InterruptMessage. Empty means
	// InterruptSignal.
	InterruptMode string `json:"interrupt_mode,omitempty"`

	// Env is extra environment for the kernel process.
	Env map[string]string `json:"env,omitempty"`

	// Metadata carries any extra fields the spec declares.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Registry finds kernel specifications on disk. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	paths []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSearchPaths replaces the standard search paths entirely. Each
// path is a data directory; specs live under its kernels/ subdirectory.
func WithSearchPaths(paths ...string) RegistryOption {
	return func(r *Registry) {
		r.paths = append([]string(nil), paths...)
	}
}

// WithExtraPaths prepends data directories to the standard search
// paths, taking precedence over them.
func WithExtraPaths(paths ...string) RegistryOption {
	return func(r *Registry) {
		r.paths = append(append([]string(nil), paths...), r.paths...)
	}
}

// NewRegistry builds a registry over the standard search paths:
// JUPYTER_PATH entries, then the user data directory, then the system
// data directories. Earlier paths shadow later ones.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{paths: defaultPaths()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// defaultPaths returns the standard data directories, highest priority
// first.
func defaultPaths() []string {
	var paths []string
	if env := os.Getenv("JUPYTER_PATH"); env != "" {
		paths = append(paths, filepath.SplitList(env)...)
	}
	if user := userDataDir(); user != "" {
		paths = append(paths, user)
	}
	paths = append(paths, "/usr/local/share/jupyter", "/usr/share/jupyter")
	return paths
}

// userDataDir returns the per-user jupyter data directory for this
// platform, or "" when no home directory is known.
func userDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Jupyter")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "jupyter")
	}
	return filepath.Join(home, ".local", "share", "jupyter")
}

// SearchPaths returns the data directories in search order.
func (r *Registry) SearchPaths() []string {
	return append([]string(nil), r.paths...)
}

// Find resolves the named specification, honoring search-path
// precedence. Returns an error wrapping ErrNotFound when no path holds
// the name.
func (r *Registry) Find(name string) (Spec, error) {
	for _, root := range r.paths {
		dir := filepath.Join(root, "kernels", name)
		spec, err := loadSpec(name, dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Spec{}, err
		}
		return spec, nil
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// List returns every installed specification, sorted by name. A name
// installed under several paths appears once, from the highest-priority
// path. Directories without a readable kernel.json are skipped.
func (r *Registry) List() ([]Spec, error) {
	seen := make(map[string]Spec)
	for _, root := range r.paths {
		entries, err := os.ReadDir(filepath.Join(root, "kernels"))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if _, ok := seen[name]; ok {
				continue
			}
			spec, err := loadSpec(name, filepath.Join(root, "kernels", name))
			if err != nil {
				continue
			}
			seen[name] = spec
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Spec, 0, len(names))
	for _, name := range names {
		out = append(out, seen[name])
	}
	return out, nil
}

// loadSpec parses dir/kernel.json into a Spec.
func loadSpec(name, dir string) (Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, "kernel.json"))
	if err != nil {
		return Spec{}, err
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("kernelspec: parse %s: %w", filepath.Join(dir, "kernel.json"), err)
	}
	if len(spec.Argv) == 0 {
		return Spec{}, fmt.Errorf("kernelspec: %s declares no argv", filepath.Join(dir, "kernel.json"))
	}
	spec.Name = name
	spec.ResourceDir = dir
	if spec.InterruptMode == "" {
		spec.InterruptMode = InterruptSignal
	}
	return spec, nil
}
