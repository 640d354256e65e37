// Package manifest parses the project manifest (project.json) into the
// immutable Project model the resolver and loader operate on.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/version"
)

// FileName is the manifest file looked up in project directories.
const FileName = "project.json"

// ErrNoManifest is returned when a directory carries no manifest.
var ErrNoManifest = errors.New("no project manifest")

// TargetFramework is one framework profile's slice of a project: its
// extra dependencies and its framework-assembly references.
type TargetFramework struct {
	Profile      framework.Profile
	Dependencies []library.Dependency
}

// Project is the parsed manifest. Immutable for the duration of a run.
type Project struct {
	Name       string
	Version    *version.Version
	EntryPoint string
	Commands   map[string]string
	Scripts    map[string]string

	SharedDependencies []library.Dependency
	Frameworks         []TargetFramework

	SourcePatterns     []string
	ExcludePatterns    []string
	PreprocessPatterns []string
	SharedPatterns     []string

	CompilationOptions map[string]any

	ProjectFilePath string
	ProjectDir      string
}

// rawManifest mirrors the JSON document. Unknown keys are ignored.
type rawManifest struct {
	Version    string                  `json:"version"`
	EntryPoint string                  `json:"entryPoint"`
	Commands   map[string]string       `json:"commands"`
	Deps       map[string]rawDep       `json:"dependencies"`
	Frameworks map[string]rawFramework `json:"frameworks"`

	CompilationOptions map[string]any `json:"compilationOptions"`
	Code               patternList    `json:"code"`
	Exclude            patternList    `json:"exclude"`
	Preprocess         patternList    `json:"preprocess"`
	Shared             patternList    `json:"shared"`
	Scripts            map[string]string `json:"scripts"`
}

type rawFramework struct {
	Deps                map[string]rawDep `json:"dependencies"`
	FrameworkAssemblies map[string]rawDep `json:"frameworkAssemblies"`
}

// rawDep accepts either "1.0" or { "version": "1.0", "type": "build" }.
type rawDep struct {
	Version string
	Type    string
}

func (d *rawDep) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &d.Version)
	}
	var obj struct {
		Version string `json:"version"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Version, d.Type = obj.Version, obj.Type
	return nil
}

// patternList accepts either a single glob string or an array of them.
type patternList []string

func (p *patternList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = []string{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// Exists reports whether dir carries a manifest file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// Load reads and validates the manifest in dir. The project name is the
// directory's base name. A missing file yields ErrNoManifest; a parse or
// schema failure is fatal to the command.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return parse(data, filepath.Base(abs), path, abs)
}

// ParseBytes parses a manifest document that did not come from disk,
// e.g. one served by a remote feed. ProjectDir and file paths stay
// empty; glob expansion is unavailable on such projects.
func ParseBytes(data []byte, name string) (*Project, error) {
	return parse(data, name, name+"/"+FileName, "")
}

func parse(data []byte, name, path, dir string) (*Project, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	var raw rawManifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	p := &Project{
		Name:               name,
		EntryPoint:         raw.EntryPoint,
		Commands:           raw.Commands,
		Scripts:            raw.Scripts,
		CompilationOptions: raw.CompilationOptions,
		SourcePatterns:     raw.Code,
		ExcludePatterns:    raw.Exclude,
		PreprocessPatterns: raw.Preprocess,
		SharedPatterns:     raw.Shared,
		ProjectFilePath:    path,
		ProjectDir:         dir,
	}
	if len(p.SourcePatterns) == 0 {
		p.SourcePatterns = []string{"**/*" + SourceExtension}
	}
	if p.Commands == nil {
		p.Commands = map[string]string{}
	}

	v := raw.Version
	if v == "" {
		v = "1.0.0"
	}
	ver, err := version.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: version: %w", path, err)
	}
	p.Version = ver

	p.SharedDependencies, err = parseDeps(raw.Deps, nil, path)
	if err != nil {
		return nil, err
	}

	for id, rawFw := range raw.Frameworks {
		profile, err := framework.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: frameworks: %w", path, err)
		}
		deps, err := parseDeps(rawFw.Deps, rawFw.FrameworkAssemblies, path)
		if err != nil {
			return nil, err
		}
		p.Frameworks = append(p.Frameworks, TargetFramework{Profile: profile, Dependencies: deps})
	}
	sortFrameworks(p.Frameworks)

	return p, nil
}

func parseDeps(deps, frameworkAssemblies map[string]rawDep, path string) ([]library.Dependency, error) {
	out := make([]library.Dependency, 0, len(deps)+len(frameworkAssemblies))
	for _, name := range sortedKeys(deps) {
		d := deps[name]
		vr, err := version.ParseRange(d.Version)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: dependency %q: %w", path, name, err)
		}
		out = append(out, library.Dependency{
			Range: library.NewRange(name, vr),
			Type:  depType(d.Type),
		})
	}
	for _, name := range sortedKeys(frameworkAssemblies) {
		out = append(out, library.Dependency{
			Range: library.NewFrameworkReference(name),
			Type:  depType(frameworkAssemblies[name].Type),
		})
	}
	return out, nil
}

func depType(s string) library.DependencyType {
	if s == "" {
		return library.TypeDefault
	}
	return library.DependencyType(s)
}

// Dependencies returns the effective set for a framework profile:
// shared dependencies plus the profile's own, in declaration order.
func (p *Project) Dependencies(profile framework.Profile) []library.Dependency {
	out := make([]library.Dependency, 0, len(p.SharedDependencies))
	out = append(out, p.SharedDependencies...)
	for _, fw := range p.Frameworks {
		if fw.Profile == profile {
			out = append(out, fw.Dependencies...)
		}
	}
	return out
}

// Profiles lists the target frameworks in declared (sorted) order.
func (p *Project) Profiles() []framework.Profile {
	out := make([]framework.Profile, len(p.Frameworks))
	for i, fw := range p.Frameworks {
		out[i] = fw.Profile
	}
	return out
}

// EntryPointOrName is the application name `run` resolves to when no
// explicit argument is given.
func (p *Project) EntryPointOrName() string {
	if p.EntryPoint != "" {
		return p.EntryPoint
	}
	return p.Name
}
