// Package lockfile reads and writes project.lock.json, the canonical
// record of a resolution. Byte-level determinism is part of the
// contract: the same resolution always serialises to identical bytes,
// so ordered keys and two-space indentation are enforced here rather
// than left to encoding/json map ordering.
package lockfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/version"
)

// FileName is the lock file written next to the project manifest.
const FileName = "project.lock.json"

// CurrentVersion is the only schema version this package writes or
// accepts.
const CurrentVersion = 1

// ErrNoLockFile is returned when a directory carries no lock file.
var ErrNoLockFile = errors.New("no lock file")

// FrameworkDependencies is one entry of the ordered framework map: the
// shared set under "" first, then target frameworks in declared order.
type FrameworkDependencies struct {
	Framework    string
	Dependencies []string
}

// Library is one locked package: identity, archive sha, and the
// declared dependency strings per profile. File contents are not
// recorded, only names.
type Library struct {
	Name                string
	Version             *version.Version
	SHA                 string
	DependencySets      map[string][]string
	FrameworkAssemblies map[string][]string
	Files               []string
}

// Key is the library's object key in the lock document.
func (l *Library) Key() string {
	return l.Name + "/" + l.Version.String()
}

// LockFile is the parsed lock document.
type LockFile struct {
	Locked                bool
	Version               int
	FrameworkDependencies []FrameworkDependencies
	Libraries             []*Library
}

// sortLibraries orders libraries by (name, version), the document's
// canonical order.
func sortLibraries(libs []*Library) {
	sort.Slice(libs, func(i, j int) bool {
		if libs[i].Name != libs[j].Name {
			return libs[i].Name < libs[j].Name
		}
		return libs[i].Version.Compare(libs[j].Version) < 0
	})
}

// Path returns the lock file path for a project directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether dir carries a lock file.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Read parses the lock file in dir. A missing file yields
// ErrNoLockFile; an unsupported version or malformed document is an
// error, which callers treat as an invalid lock.
func Read(dir string) (*LockFile, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoLockFile, dir)
		}
		return nil, fmt.Errorf("reading lock file %s: %w", path, err)
	}
	lf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lock file %s: %w", path, err)
	}
	return lf, nil
}

// Write serialises the lock file to its canonical bytes and replaces
// dir's lock file atomically.
func (lf *LockFile) Write(dir string) error {
	data, err := lf.MarshalCanonical()
	if err != nil {
		return err
	}
	path := Path(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// Validate checks the lock against a manifest. The lock is valid when
// its framework keys are exactly {""} plus the project's frameworks and
// every key's declared-dependency set matches the manifest's, compared
// as canonical strings.
func (lf *LockFile) Validate(p *manifest.Project) bool {
	if lf.Version != CurrentVersion {
		return false
	}
	want := DependencyGroups(p)
	if len(want) != len(lf.FrameworkDependencies) {
		return false
	}
	got := map[string][]string{}
	for _, fd := range lf.FrameworkDependencies {
		got[fd.Framework] = fd.Dependencies
	}
	for _, w := range want {
		g, ok := got[w.Framework]
		if !ok || !sameSet(w.Dependencies, g) {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[string]int{}
	for _, s := range a {
		set[s]++
	}
	for _, s := range b {
		set[s]--
		if set[s] < 0 {
			return false
		}
	}
	return true
}

// DependencyGroups renders a manifest's declared dependencies the way
// the lock records them: the shared set under "", then each framework
// in declared order, every range through the canonical formatter.
func DependencyGroups(p *manifest.Project) []FrameworkDependencies {
	groups := make([]FrameworkDependencies, 0, len(p.Frameworks)+1)
	groups = append(groups, FrameworkDependencies{Framework: "", Dependencies: dependencyStrings(p, framework.Profile{})})
	for _, fw := range p.Frameworks {
		groups = append(groups, FrameworkDependencies{
			Framework:    fw.Profile.String(),
			Dependencies: frameworkDependencyStrings(fw),
		})
	}
	return groups
}

func dependencyStrings(p *manifest.Project, _ framework.Profile) []string {
	out := make([]string, 0, len(p.SharedDependencies))
	for _, d := range p.SharedDependencies {
		out = append(out, d.Range.String())
	}
	return out
}

func frameworkDependencyStrings(fw manifest.TargetFramework) []string {
	out := make([]string, 0, len(fw.Dependencies))
	for _, d := range fw.Dependencies {
		out = append(out, d.Range.String())
	}
	return out
}

// PinnedRanges maps each locked library's lowercase name to the exact
// range lock-replay walks resolve against.
func (lf *LockFile) PinnedRanges() map[string]*version.Range {
	out := make(map[string]*version.Range, len(lf.Libraries))
	for _, lib := range lf.Libraries {
		out[strings.ToLower(lib.Name)] = version.Exact(lib.Version)
	}
	return out
}

// Lookup finds the locked entry for a library name, case-insensitively.
func (lf *LockFile) Lookup(name string) (*Library, bool) {
	for _, lib := range lf.Libraries {
		if strings.EqualFold(lib.Name, name) {
			return lib, true
		}
	}
	return nil, false
}

// MarshalCanonical renders the document's canonical bytes: two-space
// indentation, libraries sorted by (name, version), framework keys ""
// first then declared order, library sub-keys sorted with "" first.
func (lf *LockFile) MarshalCanonical() ([]byte, error) {
	libs := append([]*Library(nil), lf.Libraries...)
	sortLibraries(libs)

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKey(&buf, "locked")
	writeJSON(&buf, lf.Locked)
	buf.WriteByte(',')
	writeKey(&buf, "version")
	writeJSON(&buf, lf.Version)
	buf.WriteByte(',')

	writeKey(&buf, "frameworkDependencies")
	buf.WriteByte('{')
	for i, fd := range lf.FrameworkDependencies {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, fd.Framework)
		writeJSON(&buf, emptyNotNull(fd.Dependencies))
	}
	buf.WriteByte('}')
	buf.WriteByte(',')

	writeKey(&buf, "libraries")
	buf.WriteByte('{')
	for i, lib := range libs {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, lib.Key())
		if err := writeLibrary(&buf, lib); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("rendering lock file: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeLibrary(buf *bytes.Buffer, lib *Library) error {
	buf.WriteByte('{')
	writeKey(buf, "sha")
	writeJSON(buf, lib.SHA)
	buf.WriteByte(',')

	writeKey(buf, "dependencySets")
	writeProfileMap(buf, lib.DependencySets)
	buf.WriteByte(',')

	writeKey(buf, "frameworkAssemblies")
	writeProfileMap(buf, lib.FrameworkAssemblies)
	buf.WriteByte(',')

	writeKey(buf, "files")
	files := append([]string(nil), lib.Files...)
	sort.Strings(files)
	writeJSON(buf, emptyNotNull(files))
	buf.WriteByte('}')
	return nil
}

// writeProfileMap renders a profile-keyed map with "" first, then the
// remaining keys lexicographically.
func writeProfileMap(buf *bytes.Buffer, m map[string][]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m[""]; ok {
		keys = append([]string{""}, keys...)
	}

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(buf, k)
		writeJSON(buf, emptyNotNull(m[k]))
	}
	buf.WriteByte('}')
}

func writeKey(buf *bytes.Buffer, key string) {
	writeJSON(buf, key)
	buf.WriteByte(':')
}

func writeJSON(buf *bytes.Buffer, v any) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	buf.Write(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
}

func emptyNotNull(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
