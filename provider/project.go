package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/manifest"
)

// NewProject builds the project-source provider: a sibling directory
// under the solution root whose manifest matches the requested name.
// The manifest's version is accepted regardless of the range; project
// references trump versions.
func NewProject(solutionRoot string) *Provider {
	p := &projectSource{root: solutionRoot, projects: make(map[string]*manifest.Project)}
	return &Provider{
		Kind: KindProject,
		Name: solutionRoot,
		Ops: Operations{
			FindCandidates: p.findCandidates,
			Dependencies:   p.dependencies,
			// Project references produce no bytes.
		},
	}
}

type projectSource struct {
	root string

	mu       sync.Mutex
	projects map[string]*manifest.Project
}

func (p *projectSource) findCandidates(_ context.Context, rng library.Range, _ framework.Profile) ([]Candidate, error) {
	dir, ok, err := p.locate(rng.Name)
	if err != nil || !ok {
		return nil, err
	}

	p.mu.Lock()
	proj, cached := p.projects[dir]
	p.mu.Unlock()
	if !cached {
		proj, err = manifest.Load(dir)
		if err != nil {
			return nil, fmt.Errorf("project reference %s: %w", rng.Name, err)
		}
		p.mu.Lock()
		p.projects[dir] = proj
		p.mu.Unlock()
	}

	return []Candidate{{
		Library: library.Identity{Name: proj.Name, Version: proj.Version},
		Kind:    KindProject,
		Source:  proj.ProjectFilePath,
		Token:   proj,
	}}, nil
}

func (p *projectSource) dependencies(_ context.Context, c Candidate, profile framework.Profile) ([]library.Dependency, error) {
	proj, ok := c.Token.(*manifest.Project)
	if !ok {
		return nil, fmt.Errorf("project provider: foreign candidate %s", c.Library)
	}
	return proj.Dependencies(profile), nil
}

// locate finds the sibling directory carrying a manifest whose name
// matches, case-insensitively.
func (p *projectSource) locate(name string) (string, bool, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("scanning solution root %s: %w", p.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.EqualFold(e.Name(), name) {
			continue
		}
		dir := p.root + string(os.PathSeparator) + e.Name()
		if manifest.Exists(dir) {
			return dir, true, nil
		}
	}
	return "", false, nil
}
