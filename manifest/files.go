package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceExtension is the extension of source-form module files.
const SourceExtension = ".kn"

// SourceFiles expands the manifest's code globs relative to the project
// directory and subtracts the exclude globs. Paths come back absolute
// and sorted.
func (p *Project) SourceFiles() ([]string, error) {
	return p.expand(p.SourcePatterns)
}

// SharedFiles expands the shared globs the same way.
func (p *Project) SharedFiles() ([]string, error) {
	return p.expand(p.SharedPatterns)
}

// PreprocessFiles expands the preprocess globs.
func (p *Project) PreprocessFiles() ([]string, error) {
	return p.expand(p.PreprocessPatterns)
}

func (p *Project) expand(patterns []string) ([]string, error) {
	root := os.DirFS(p.ProjectDir)
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if excluded, err := p.isExcluded(m); err != nil {
				return nil, err
			} else if excluded {
				continue
			}
			if dir, err := fs.Stat(root, m); err == nil && dir.IsDir() {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, filepath.Join(p.ProjectDir, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}

func (p *Project) isExcluded(rel string) (bool, error) {
	for _, pattern := range p.ExcludePatterns {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func sortedKeys(m map[string]rawDep) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortFrameworks(fws []TargetFramework) {
	sort.Slice(fws, func(i, j int) bool {
		return fws[i].Profile.String() < fws[j].Profile.String()
	})
}
