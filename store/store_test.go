package store

import (
	"archive/zip"
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zipArchive builds an in-memory package archive from path->content pairs.
func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestComputeDigest(t *testing.T) {
	t.Parallel()

	data := []byte("package bytes")
	d, err := ComputeDigest(bytes.NewReader(data))
	require.NoError(t, err)

	sum := sha512.Sum512(data)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), d.String())
	assert.False(t, d.IsZero())
	assert.True(t, Digest{}.IsZero())
}

func TestDigestVerify(t *testing.T) {
	t.Parallel()

	data := []byte("payload")
	d, err := ComputeDigest(bytes.NewReader(data))
	require.NoError(t, err)

	assert.NoError(t, d.Verify(bytes.NewReader(data)))

	err = d.Verify(strings.NewReader("tampered"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestInstallAndLookup(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	archive := zipArchive(t, map[string]string{
		"project.json":       `{"version": "1.0.0"}`,
		"lib/Newtonsoft.wasm": "binary",
	})

	d, err := s.Install("Newtonsoft.Json", "6.0.1", bytes.NewReader(archive))
	require.NoError(t, err)

	want, err := ComputeDigest(bytes.NewReader(archive))
	require.NoError(t, err)
	assert.True(t, d.Equals(want), "digest covers the archive bytes")

	assert.True(t, s.Installed("Newtonsoft.Json", "6.0.1"))
	assert.FileExists(t, s.ArchivePath("Newtonsoft.Json", "6.0.1"))
	assert.FileExists(t, s.PackageDir("Newtonsoft.Json", "6.0.1")+"/project.json")

	// Lookup is case-insensitive but reports the installed spelling.
	actual, versions, err := s.Lookup("newtonsoft.JSON")
	require.NoError(t, err)
	assert.Equal(t, "Newtonsoft.Json", actual)
	require.Len(t, versions, 1)
	assert.Equal(t, "6.0.1", versions[0].String())
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	actual, versions, err := s.Lookup("Nothing")
	require.NoError(t, err)
	assert.Equal(t, "Nothing", actual)
	assert.Empty(t, versions)
}

func TestLookupSortsVersions(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	for _, ver := range []string{"2.0.0", "1.0.0", "1.0.0-beta", "10.0.0"} {
		archive := zipArchive(t, map[string]string{"a.txt": ver})
		_, err := s.Install("Pkg", ver, bytes.NewReader(archive))
		require.NoError(t, err)
	}

	_, versions, err := s.Lookup("Pkg")
	require.NoError(t, err)
	got := make([]string, len(versions))
	for i, v := range versions {
		got[i] = v.String()
	}
	assert.Equal(t, []string{"1.0.0-beta", "1.0.0", "2.0.0", "10.0.0"}, got)
}

func TestInstallIdempotent(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	archive := zipArchive(t, map[string]string{"a.txt": "one"})

	first, err := s.Install("Pkg", "1.0.0", bytes.NewReader(archive))
	require.NoError(t, err)

	// A second install of the same identity keeps the existing content.
	other := zipArchive(t, map[string]string{"a.txt": "two"})
	second, err := s.Install("Pkg", "1.0.0", bytes.NewReader(other))
	require.NoError(t, err)
	assert.True(t, first.Equals(second))
}

func TestSHAAndVerify(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	archive := zipArchive(t, map[string]string{"a.txt": "content"})
	d, err := s.Install("Pkg", "1.0.0", bytes.NewReader(archive))
	require.NoError(t, err)

	got, err := s.SHA("Pkg", "1.0.0")
	require.NoError(t, err)
	assert.True(t, d.Equals(got))

	assert.NoError(t, s.Verify("Pkg", "1.0.0", d))

	err = s.Verify("Pkg", "1.0.0", NewDigest("bogus"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = s.SHA("Pkg", "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstallRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = s.Install("Evil", "1.0.0", bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}
