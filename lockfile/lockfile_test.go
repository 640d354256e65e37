package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/version"
)

func sampleLock() *LockFile {
	return &LockFile{
		Locked:  false,
		Version: CurrentVersion,
		FrameworkDependencies: []FrameworkDependencies{
			{Framework: "", Dependencies: []string{"Newtonsoft.Json >= 6.0.0"}},
			{Framework: "net45", Dependencies: []string{"System.Xml"}},
		},
		Libraries: []*Library{
			{
				Name:    "Newtonsoft.Json",
				Version: version.MustParse("6.0.1"),
				SHA:     "abc123==",
				DependencySets: map[string][]string{
					"":      {},
					"net45": {"System.Runtime >= 4.0.0"},
				},
				FrameworkAssemblies: map[string][]string{},
				Files:               []string{"project.json", "lib/net45/Newtonsoft.Json.wasm"},
			},
		},
	}
}

func TestMarshalCanonical(t *testing.T) {
	t.Parallel()

	data, err := sampleLock().MarshalCanonical()
	require.NoError(t, err)

	want := `{
  "locked": false,
  "version": 1,
  "frameworkDependencies": {
    "": [
      "Newtonsoft.Json >= 6.0.0"
    ],
    "net45": [
      "System.Xml"
    ]
  },
  "libraries": {
    "Newtonsoft.Json/6.0.1": {
      "sha": "abc123==",
      "dependencySets": {
        "": [],
        "net45": [
          "System.Runtime >= 4.0.0"
        ]
      },
      "frameworkAssemblies": {},
      "files": [
        "lib/net45/Newtonsoft.Json.wasm",
        "project.json"
      ]
    }
  }
}
`
	assert.Equal(t, want, string(data))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	t.Parallel()

	a, err := sampleLock().MarshalCanonical()
	require.NoError(t, err)
	b, err := sampleLock().MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalSortsLibraries(t *testing.T) {
	t.Parallel()

	lf := &LockFile{
		Version: CurrentVersion,
		Libraries: []*Library{
			{Name: "Zeta", Version: version.MustParse("1.0")},
			{Name: "Alpha", Version: version.MustParse("2.0")},
			{Name: "Alpha", Version: version.MustParse("1.0")},
		},
	}
	data, err := lf.MarshalCanonical()
	require.NoError(t, err)

	s := string(data)
	assert.Less(t, strings.Index(s, "Alpha/1.0.0"), strings.Index(s, "Alpha/2.0.0"))
	assert.Less(t, strings.Index(s, "Alpha/2.0.0"), strings.Index(s, "Zeta/1.0.0"))
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lf := sampleLock()
	require.NoError(t, lf.Write(dir))
	assert.True(t, Exists(dir))

	got, err := Read(dir)
	require.NoError(t, err)

	assert.Equal(t, lf.Locked, got.Locked)
	assert.Equal(t, lf.Version, got.Version)
	assert.Equal(t, lf.FrameworkDependencies, got.FrameworkDependencies)
	require.Len(t, got.Libraries, 1)
	lib := got.Libraries[0]
	assert.Equal(t, "Newtonsoft.Json", lib.Name)
	assert.Equal(t, "6.0.1", lib.Version.String())
	assert.Equal(t, "abc123==", lib.SHA)
	assert.Equal(t, []string{"System.Runtime >= 4.0.0"}, lib.DependencySets["net45"])

	// Re-serialising the parsed document reproduces the bytes.
	a, err := lf.MarshalCanonical()
	require.NoError(t, err)
	b, err := got.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestReadMissing(t *testing.T) {
	t.Parallel()

	_, err := Read(t.TempDir())
	assert.ErrorIs(t, err, ErrNoLockFile)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"locked": false, "version": 2, "frameworkDependencies": {}, "libraries": {}}`))
	assert.Error(t, err)
}

func TestParsePreservesFrameworkOrder(t *testing.T) {
	t.Parallel()

	lf, err := Parse([]byte(`{
  "locked": true,
  "version": 1,
  "frameworkDependencies": {
    "": [],
    "net45": [],
    "k10": []
  },
  "libraries": {}
}`))
	require.NoError(t, err)
	require.Len(t, lf.FrameworkDependencies, 3)
	assert.Equal(t, "", lf.FrameworkDependencies[0].Framework)
	assert.Equal(t, "net45", lf.FrameworkDependencies[1].Framework)
	assert.Equal(t, "k10", lf.FrameworkDependencies[2].Framework)
	assert.True(t, lf.Locked)
}

func projectFrom(t *testing.T, doc string) *manifest.Project {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "App")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(doc), 0o644))
	p, err := manifest.Load(dir)
	require.NoError(t, err)
	return p
}

func TestValidate(t *testing.T) {
	t.Parallel()

	p := projectFrom(t, `{
  "dependencies": {"Newtonsoft.Json": "6.0"},
  "frameworks": {"net45": {"frameworkAssemblies": {"System.Xml": ""}}}
}`)

	lf := &LockFile{
		Version: CurrentVersion,
		FrameworkDependencies: []FrameworkDependencies{
			{Framework: "", Dependencies: []string{"Newtonsoft.Json >= 6.0.0"}},
			{Framework: "net45", Dependencies: []string{"System.Xml"}},
		},
	}
	assert.True(t, lf.Validate(p))

	// Any drift between the lock's declared sets and the manifest's
	// invalidates the lock.
	lf.FrameworkDependencies[0].Dependencies = []string{"Newtonsoft.Json >= 5.0.0"}
	assert.False(t, lf.Validate(p))

	lf.FrameworkDependencies[0].Dependencies = []string{"Newtonsoft.Json >= 6.0.0"}
	lf.Version = 99
	assert.False(t, lf.Validate(p))

	stale := &LockFile{
		Version: CurrentVersion,
		FrameworkDependencies: []FrameworkDependencies{
			{Framework: "", Dependencies: []string{"Newtonsoft.Json >= 6.0.0"}},
		},
	}
	assert.False(t, stale.Validate(p), "missing framework keys invalidate the lock")
}

func TestDependencyGroups(t *testing.T) {
	t.Parallel()

	p := projectFrom(t, `{
  "dependencies": {"Shared.Dep": "1.0"},
  "frameworks": {"net45": {"dependencies": {"Net.Dep": "[2.0]"}}}
}`)
	groups := DependencyGroups(p)
	require.Len(t, groups, 2)
	assert.Equal(t, "", groups[0].Framework)
	assert.Equal(t, []string{"Shared.Dep >= 1.0.0"}, groups[0].Dependencies)
	assert.Equal(t, "net45", groups[1].Framework)
	assert.Equal(t, []string{"Net.Dep [2.0.0]"}, groups[1].Dependencies)
}

func TestPinnedRangesAndLookup(t *testing.T) {
	t.Parallel()

	lf := sampleLock()
	pinned := lf.PinnedRanges()
	rng, ok := pinned["newtonsoft.json"]
	require.True(t, ok)
	assert.True(t, rng.IsExact())
	assert.True(t, rng.Satisfies(version.MustParse("6.0.1")))
	assert.False(t, rng.Satisfies(version.MustParse("6.0.2")))

	lib, ok := lf.Lookup("NEWTONSOFT.JSON")
	require.True(t, ok)
	assert.Equal(t, "Newtonsoft.Json", lib.Name)

	_, ok = lf.Lookup("Absent")
	assert.False(t, ok)
}
