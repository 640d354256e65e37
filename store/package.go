package store

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/version"
)

// Package is the descriptor of an installed package: its identity, its
// archive digest, and the dependency information the walker needs. The
// zero framework.Profile key stands for "all frameworks".
type Package struct {
	Name    string
	Version *version.Version
	SHA     Digest

	Files []string

	DependencySets      map[framework.Profile][]library.Dependency
	FrameworkAssemblies map[framework.Profile][]string
	AssemblyReferences  map[framework.Profile][]string

	Dir string
}

// Open loads the descriptor of an installed package from its extracted
// tree. The embedded manifest supplies the dependency sets; the lib/
// layout supplies the assembly references.
func (s *Store) Open(name, ver string) (*Package, error) {
	dir := s.PackageDir(name, ver)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, name, ver)
	}

	v, err := version.Parse(ver)
	if err != nil {
		return nil, fmt.Errorf("package %s: bad version directory %q: %w", name, ver, err)
	}

	sha, err := s.SHA(name, ver)
	if err != nil {
		return nil, err
	}

	pkg := &Package{
		Name:                name,
		Version:             v,
		SHA:                 sha,
		Dir:                 dir,
		DependencySets:      make(map[framework.Profile][]library.Dependency),
		FrameworkAssemblies: make(map[framework.Profile][]string),
		AssemblyReferences:  make(map[framework.Profile][]string),
	}

	if manifest.Exists(dir) {
		proj, err := manifest.Load(dir)
		if err != nil {
			return nil, fmt.Errorf("package %s %s: %w", name, ver, err)
		}
		pkg.DependencySets[framework.Profile{}] = proj.SharedDependencies
		for _, fw := range proj.Frameworks {
			var deps []library.Dependency
			var assemblies []string
			for _, d := range fw.Dependencies {
				if d.FrameworkReference {
					assemblies = append(assemblies, d.Name)
				} else {
					deps = append(deps, d)
				}
			}
			pkg.DependencySets[fw.Profile] = deps
			pkg.FrameworkAssemblies[fw.Profile] = assemblies
		}
	}

	if err := pkg.scanFiles(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// Dependencies returns the ranges declared for a consumer profile: the
// shared set plus the compatible framework-specific set.
func (p *Package) Dependencies(profile framework.Profile, table *framework.CompatibilityTable) []library.Dependency {
	out := append([]library.Dependency(nil), p.DependencySets[framework.Profile{}]...)
	for fw, deps := range p.DependencySets {
		if fw.IsZero() || !table.Compatible(fw, profile) {
			continue
		}
		out = append(out, deps...)
	}
	return out
}

// scanFiles records the extracted file list and derives assembly
// references from the lib/<profile>/ layout.
func (p *Package) scanFiles() error {
	root := os.DirFS(p.Dir)
	err := fs.WalkDir(root, ".", func(rel string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		p.Files = append(p.Files, rel)
		if ref, profile, ok := assemblyReference(rel); ok {
			p.AssemblyReferences[profile] = append(p.AssemblyReferences[profile], ref)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning package %s: %w", p.Name, err)
	}
	sort.Strings(p.Files)
	return nil
}

// assemblyReference interprets lib/<profile>/<name>.wasm entries.
// Binaries directly under lib/ apply to all frameworks.
func assemblyReference(rel string) (string, framework.Profile, bool) {
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "lib/") || !strings.HasSuffix(rel, ".wasm") {
		return "", framework.Profile{}, false
	}
	rest := strings.TrimPrefix(rel, "lib/")
	name := strings.TrimSuffix(path.Base(rest), ".wasm")
	dir := path.Dir(rest)
	if dir == "." {
		return name, framework.Profile{}, true
	}
	profile, err := framework.Parse(dir)
	if err != nil {
		return "", framework.Profile{}, false
	}
	return name, profile, true
}

// BinaryPath locates the package's binary for a profile, falling back
// to the shared lib/ root.
func (p *Package) BinaryPath(name string, profile framework.Profile) (string, bool) {
	for _, ref := range p.AssemblyReferences[profile] {
		if ref == name {
			return filepath.Join(p.Dir, "lib", profile.String(), name+".wasm"), true
		}
	}
	for _, ref := range p.AssemblyReferences[framework.Profile{}] {
		if ref == name {
			return filepath.Join(p.Dir, "lib", name+".wasm"), true
		}
	}
	return "", false
}
