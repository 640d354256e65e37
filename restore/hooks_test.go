package restore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-host/kiln/manifest"
)

func hookProject(t *testing.T, scripts string) *manifest.Project {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "App")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `{"scripts": ` + scripts + `}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(doc), 0o644))
	p, err := manifest.Load(dir)
	require.NoError(t, err)
	return p
}

func TestRunHookMissingIsNoop(t *testing.T) {
	t.Parallel()

	p := hookProject(t, `{}`)
	assert.NoError(t, runHook(t.Context(), p, HookPreRestore))

	p = hookProject(t, `{"prerestore": "   "}`)
	assert.NoError(t, runHook(t.Context(), p, HookPreRestore))
}

func TestRunHookRunsInProjectDir(t *testing.T) {
	t.Parallel()

	p := hookProject(t, `{"prepare": "echo generated > marker.txt"}`)
	require.NoError(t, runHook(t.Context(), p, HookPrepare))

	data, err := os.ReadFile(filepath.Join(p.ProjectDir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "generated\n", string(data))
}

func TestRunHookFailure(t *testing.T) {
	t.Parallel()

	p := hookProject(t, `{"prerestore": "echo generator missing >&2; exit 3"}`)
	err := runHook(t.Context(), p, HookPreRestore)
	require.Error(t, err)

	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, HookPreRestore, herr.Hook)
	assert.Contains(t, herr.Err.Error(), "exit status 3")
	assert.Contains(t, herr.Stderr, "generator missing")
	assert.Contains(t, herr.Error(), "generator missing")
}

func TestRunHookParseError(t *testing.T) {
	t.Parallel()

	p := hookProject(t, `{"prerestore": "if then fi ((("}`)
	var herr *HookError
	require.ErrorAs(t, runHook(t.Context(), p, HookPreRestore), &herr)
}
