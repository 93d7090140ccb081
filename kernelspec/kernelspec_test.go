package kernelspec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installSpec writes kernels/<name>/kernel.json under root.
func installSpec(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, "kernels", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kernel.json"), []byte(body), 0o644))
}

const python3JSON = `{
	"argv": ["python3", "-m", "ipykernel_launcher", "-f", "{connection_file}"],
	"display_name": "Python 3",
	"language": "python",
	"env": {"PYTHONUNBUFFERED": "1"},
	"metadata": {"debugger": true}
}`

func TestFind(t *testing.T) {
	root := t.TempDir()
	installSpec(t, root, "python3", python3JSON)
	reg := NewRegistry(WithSearchPaths(root))

	spec, err := reg.Find("python3")
	require.NoError(t, err)

	assert.Equal(t, "python3", spec.Name)
	assert.Equal(t, "Python 3", spec.DisplayName)
	assert.Equal(t, "python", spec.Language)
	assert.Equal(t, InterruptSignal, spec.InterruptMode, "missing interrupt_mode defaults to signal")
	assert.Equal(t, filepath.Join(root, "kernels", "python3"), spec.ResourceDir)
	assert.Equal(t, "{connection_file}", spec.Argv[len(spec.Argv)-1])
	assert.Equal(t, "1", spec.Env["PYTHONUNBUFFERED"])
	assert.Equal(t, true, spec.Metadata["debugger"])
}

func TestFindNotFound(t *testing.T) {
	reg := NewRegistry(WithSearchPaths(t.TempDir()))
	_, err := reg.Find("no-such-kernel")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindPrecedence(t *testing.T) {
	high := t.TempDir()
	low := t.TempDir()
	installSpec(t, high, "python3", `{"argv": ["a"], "display_name": "High", "language": "python"}`)
	installSpec(t, low, "python3", `{"argv": ["b"], "display_name": "Low", "language": "python"}`)

	reg := NewRegistry(WithSearchPaths(high, low))
	spec, err := reg.Find("python3")
	require.NoError(t, err)
	assert.Equal(t, "High", spec.DisplayName, "earlier path must shadow later")
}

func TestWithExtraPathsTakePrecedence(t *testing.T) {
	base := t.TempDir()
	extra := t.TempDir()
	installSpec(t, base, "julia", `{"argv": ["base"], "display_name": "Base", "language": "julia"}`)
	installSpec(t, extra, "julia", `{"argv": ["extra"], "display_name": "Extra", "language": "julia"}`)

	reg := NewRegistry(WithSearchPaths(base), WithExtraPaths(extra))
	spec, err := reg.Find("julia")
	require.NoError(t, err)
	assert.Equal(t, "Extra", spec.DisplayName)
}

func TestFindRejectsEmptyArgv(t *testing.T) {
	root := t.TempDir()
	installSpec(t, root, "broken", `{"display_name": "Broken", "language": "none"}`)

	reg := NewRegistry(WithSearchPaths(root))
	_, err := reg.Find("broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "a present but invalid spec is not a missing spec")
}

func TestFindInterruptMessageMode(t *testing.T) {
	root := t.TempDir()
	installSpec(t, root, "ir", `{
		"argv": ["R", "--slave", "-e", "IRkernel::main()", "--args", "{connection_file}"],
		"display_name": "R",
		"language": "R",
		"interrupt_mode": "message"
	}`)

	reg := NewRegistry(WithSearchPaths(root))
	spec, err := reg.Find("ir")
	require.NoError(t, err)
	assert.Equal(t, InterruptMessage, spec.InterruptMode)
}

func TestList(t *testing.T) {
	high := t.TempDir()
	low := t.TempDir()
	installSpec(t, high, "python3", python3JSON)
	installSpec(t, high, "broken", `{}`)
	installSpec(t, low, "python3", `{"argv": ["x"], "display_name": "Shadowed", "language": "python"}`)
	installSpec(t, low, "julia", `{"argv": ["julia"], "display_name": "Julia", "language": "julia"}`)

	reg := NewRegistry(WithSearchPaths(high, low))
	specs, err := reg.List()
	require.NoError(t, err)

	require.Len(t, specs, 2, "broken skipped, python3 deduplicated")
	assert.Equal(t, "julia", specs[0].Name)
	assert.Equal(t, "python3", specs[1].Name)
	assert.Equal(t, "Python 3", specs[1].DisplayName, "high-priority copy wins")
}

func TestListEmpty(t *testing.T) {
	reg := NewRegistry(WithSearchPaths(t.TempDir()))
	specs, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestFindNotFoundMessageNamesKernel(t *testing.T) {
	reg := NewRegistry(WithSearchPaths(t.TempDir()))
	_, err := reg.Find("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
	assert.True(t, errors.Is(err, ErrNotFound))
}
