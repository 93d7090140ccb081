package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmora/kernelrun"
	"github.com/dmora/kernelrun/kernelspec"
)

// connFilePlaceholder is the argv token replaced with the connection
// file path at launch.
const connFilePlaceholder = "{connection_file}"

// Launcher starts kernels as local subprocesses, resolving their
// specifications through a registry. Implements [kernelrun.Launcher].
type Launcher struct {
	reg  *kernelspec.Registry
	opts launcherOptions
}

var _ kernelrun.Launcher = (*Launcher)(nil)

// NewLauncher builds a launcher over the given registry.
func NewLauncher(reg *kernelspec.Registry, opts ...Option) *Launcher {
	return &Launcher{reg: reg, opts: resolveOptions(opts...)}
}

// LookupSpec resolves the named specification. An unregistered name
// wraps [kernelrun.ErrSpecNotFound].
func (l *Launcher) LookupSpec(ctx context.Context, name string) (kernelrun.SpecInfo, error) {
	spec, err := l.reg.Find(name)
	if err != nil {
		if errors.Is(err, kernelspec.ErrNotFound) {
			return kernelrun.SpecInfo{}, fmt.Errorf("%w: %q", kernelrun.ErrSpecNotFound, name)
		}
		return kernelrun.SpecInfo{}, err
	}
	return specInfo(spec), nil
}

// Launch resolves the named spec, writes a connection file, and starts
// the kernel process. The returned connection is not ready yet; callers
// gate on Connection.Ready.
func (l *Launcher) Launch(ctx context.Context, name string) (kernelrun.Connection, error) {
	spec, err := l.reg.Find(name)
	if err != nil {
		if errors.Is(err, kernelspec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", kernelrun.ErrSpecNotFound, name)
		}
		return nil, err
	}

	dir, err := os.MkdirTemp(l.opts.connDir, "kernelrun-"+name+"-*")
	if err != nil {
		return nil, fmt.Errorf("local: connection dir: %w", err)
	}
	file, err := newConnFile(l.opts.ip, name)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	path := filepath.Join(dir, "connection.json")
	if err := file.write(path); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	log := l.opts.logger.With().Str("component", "local").Str("kernel", name).Logger()
	conn, err := newConn(connConfig{
		file:  file,
		spec:  spec,
		dir:   dir,
		grace: l.opts.grace,
		log:   log,
		launch: func() (*exec.Cmd, error) {
			return buildCmd(spec, path, l.opts.env)
		},
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return conn, nil
}

// buildCmd assembles the kernel command from the spec's argv, with the
// connection file substituted and the environment merged: client
// environment, then the spec's env block, then launcher overrides.
func buildCmd(spec kernelspec.Spec, connFilePath string, extra map[string]string) (*exec.Cmd, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("local: spec %q declares no argv", spec.Name)
	}
	argv := make([]string, len(spec.Argv))
	for i, arg := range spec.Argv {
		argv[i] = strings.ReplaceAll(arg, connFilePlaceholder, connFilePath)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.ResourceDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env, extra)
	return cmd, nil
}

// mergeEnv layers the env maps over base; later layers win.
func mergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	order := make([]string, 0, len(base))
	set := func(key, value string) {
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		merged[key] = value
	}
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			set(k, layer[k])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// specInfo converts a registry spec into the pass-through lookup shape.
func specInfo(spec kernelspec.Spec) kernelrun.SpecInfo {
	return kernelrun.SpecInfo{
		Name:        spec.Name,
		DisplayName: spec.DisplayName,
		Language:    spec.Language,
		Metadata:    spec.Metadata,
	}
}
