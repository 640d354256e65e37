package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/version"
)

// ReferenceAssembly is one entry of an installed framework's
// reference-assembly set.
type ReferenceAssembly struct {
	Name    string
	Version *version.Version
	Path    string
}

// ReferenceSet maps consumer profiles to their reference assemblies.
type ReferenceSet map[framework.Profile][]ReferenceAssembly

// NewReference builds the framework-reference provider. Lookup is keyed
// by the consumer's target framework and bypasses version ranges.
func NewReference(set ReferenceSet) *Provider {
	r := &referenceSource{set: set, kind: KindReference}
	return &Provider{
		Kind: KindReference,
		Name: "framework",
		Ops: Operations{
			FindCandidates: r.findCandidates,
			// Reference assemblies have no declared dependencies and no bytes.
		},
	}
}

type referenceSource struct {
	set  ReferenceSet
	kind Kind
}

func (r *referenceSource) findCandidates(_ context.Context, rng library.Range, profile framework.Profile) ([]Candidate, error) {
	for _, asm := range r.set[profile] {
		if !strings.EqualFold(asm.Name, rng.Name) {
			continue
		}
		return []Candidate{{
			Library: library.Identity{Name: asm.Name, Version: asm.Version},
			Kind:    r.kind,
			Source:  asm.Path,
			Token:   asm,
		}}, nil
	}
	return nil, nil
}

// NewGAC builds the machine-wide assembly-cache provider. It mirrors the
// framework-reference contract but probes cache directories on disk:
// <dir>/<name>/<version>/<name>.wasm.
func NewGAC(dirs []string) *Provider {
	g := &gacSource{dirs: dirs}
	return &Provider{
		Kind: KindGAC,
		Name: "gac",
		Ops: Operations{
			FindCandidates: g.findCandidates,
		},
	}
}

type gacSource struct {
	dirs []string
}

func (g *gacSource) findCandidates(_ context.Context, rng library.Range, _ framework.Profile) ([]Candidate, error) {
	for _, dir := range g.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.EqualFold(e.Name(), rng.Name) {
				continue
			}
			if c, ok := g.bestVersion(filepath.Join(dir, e.Name()), e.Name()); ok {
				return []Candidate{c}, nil
			}
		}
	}
	return nil, nil
}

func (g *gacSource) bestVersion(nameDir, name string) (Candidate, bool) {
	versionDirs, err := os.ReadDir(nameDir)
	if err != nil {
		return Candidate{}, false
	}
	var best *version.Version
	bestPath := ""
	for _, vd := range versionDirs {
		if !vd.IsDir() {
			continue
		}
		v, err := version.Parse(vd.Name())
		if err != nil {
			continue
		}
		p := filepath.Join(nameDir, vd.Name(), name+".wasm")
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best, bestPath = v, p
		}
	}
	if best == nil {
		return Candidate{}, false
	}
	return Candidate{
		Library: library.Identity{Name: name, Version: best},
		Kind:    KindGAC,
		Source:  bestPath,
		Token:   bestPath,
	}, true
}
