package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler writes a shell script that records its argv and emits a
// wasm/symbols pair under the --out directory.
func fakeCompiler(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
out=
name=
prev=
for a in "$@"; do
  [ "$prev" = "--out" ] && out=$a
  [ "$prev" = "--name" ] && name=$a
  prev=$a
done
printf '%s\n' "$@" > "$out/argv.txt"
printf 'wasm-bytes' > "$out/$name.wasm"
printf 'symbol-bytes' > "$out/$name.symbols"
`
	path := filepath.Join(t.TempDir(), "knc-fake")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func failingCompiler(t *testing.T, stderr string) string {
	t.Helper()
	script := "#!/bin/sh\nprintf '%s' \"" + stderr + "\" >&2\nexit 1\n"
	path := filepath.Join(t.TempDir(), "knc-fail")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestExecToolchainCompileToDir(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	tc := &ExecToolchain{Command: fakeCompiler(t), Configuration: "Debug"}
	res, err := tc.Compile(t.Context(), CompileRequest{
		Name:       "MyLib",
		ProjectDir: t.TempDir(),
		Sources:    []string{"a.kn", "sub/b.kn"},
		References: []string{"/deps/Core.wasm"},
		OutputDir:  out,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "MyLib.wasm"), res.BinaryPath)
	assert.Empty(t, res.Binary, "a directory build leaves the bytes on disk")
	assert.FileExists(t, res.BinaryPath)

	argv, err := os.ReadFile(filepath.Join(out, "argv.txt"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(argv)), "\n")
	assert.Equal(t, []string{
		"--name", "MyLib",
		"--out", out,
		"--configuration", "Debug",
		"--reference", "/deps/Core.wasm",
		"a.kn", "sub/b.kn",
	}, args, "sources follow the flags")
}

func TestExecToolchainCompileInMemory(t *testing.T) {
	t.Parallel()

	tc := &ExecToolchain{Command: fakeCompiler(t)}
	res, err := tc.Compile(t.Context(), CompileRequest{
		Name:       "MyLib",
		ProjectDir: t.TempDir(),
		Sources:    []string{"a.kn"},
	})
	require.NoError(t, err)

	assert.Equal(t, "wasm-bytes", string(res.Binary))
	assert.Equal(t, "symbol-bytes", string(res.Symbols))
	assert.Empty(t, res.BinaryPath, "the temporary build directory is discarded")
}

func TestExecToolchainFailure(t *testing.T) {
	t.Parallel()

	tc := &ExecToolchain{Command: failingCompiler(t, `a.kn(3,1): error KN1002: ; expected`)}
	_, err := tc.Compile(t.Context(), CompileRequest{Name: "MyLib", ProjectDir: t.TempDir()})
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "MyLib", cerr.Name)
	assert.Equal(t, []string{"a.kn(3,1): error KN1002: ; expected"}, cerr.Diagnostics)
	assert.Contains(t, cerr.Error(), "compiling MyLib:")
	assert.Contains(t, cerr.Error(), "KN1002")
}

func TestExecToolchainFailureWithoutStderr(t *testing.T) {
	t.Parallel()

	tc := &ExecToolchain{Command: failingCompiler(t, "")}
	_, err := tc.Compile(t.Context(), CompileRequest{Name: "MyLib", ProjectDir: t.TempDir()})

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	require.Len(t, cerr.Diagnostics, 1, "the process error stands in for missing diagnostics")
	assert.Contains(t, cerr.Diagnostics[0], "exit status 1")
}

func TestDiagnosticsFrom(t *testing.T) {
	t.Parallel()

	got := diagnosticsFrom("first\r\n\n  \nsecond\n")
	assert.Equal(t, []string{"first", "second"}, got)

	assert.Nil(t, diagnosticsFrom(""))
}
