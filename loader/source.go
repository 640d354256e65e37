package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/provider"
	"github.com/kiln-host/kiln/store"
)

// SymbolsDir is the sidecar directory under the solution root where
// in-memory builds leave their binary image and debug symbols.
const SymbolsDir = ".symbols"

// SourceLoader compiles manifest projects found under the solution
// root and hands the loaded modules to the container. Loaded images
// are cached by assembly name; a name is compiled at most once per
// loader lifetime.
type SourceLoader struct {
	solution  string
	runtime   *Runtime
	toolchain Toolchain
	profile   framework.Profile

	container  *Container
	store      *store.Store
	references provider.ReferenceSet
	table      *framework.CompatibilityTable
	watcher    *fsnotify.Watcher
	logger     *slog.Logger

	mu     sync.Mutex
	images map[string]*Module
}

// SourceOption configures a SourceLoader.
type SourceOption func(*SourceLoader)

// WithContainer lets reference resolution load sibling projects
// through the container, compiling them on demand.
func WithContainer(c *Container) SourceOption {
	return func(l *SourceLoader) { l.container = c }
}

// WithStore lets reference resolution fall back to installed packages.
func WithStore(s *store.Store, table *framework.CompatibilityTable) SourceOption {
	return func(l *SourceLoader) { l.store, l.table = s, table }
}

// WithReferenceAssemblies supplies the framework baseline reference
// set added to every compilation.
func WithReferenceAssemblies(set provider.ReferenceSet) SourceOption {
	return func(l *SourceLoader) { l.references = set }
}

// WithWatcher registers file-system watches on loaded projects so an
// external collaborator can drive invalidation.
func WithWatcher(w *fsnotify.Watcher) SourceOption {
	return func(l *SourceLoader) { l.watcher = w }
}

// WithSourceLogger sets the loader's logger.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(l *SourceLoader) { l.logger = logger }
}

// NewSource builds the source-project loader for one solution root and
// target framework.
func NewSource(solution string, rt *Runtime, tc Toolchain, profile framework.Profile, opts ...SourceOption) *SourceLoader {
	l := &SourceLoader{
		solution:  solution,
		runtime:   rt,
		toolchain: tc,
		profile:   profile,
		logger:    slog.Default(),
		images:    map[string]*Module{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load compiles and instantiates the named project. A name with no
// manifest directory under the solution yields ErrNoMatch.
func (l *SourceLoader) Load(ctx context.Context, name string) (*Module, error) {
	l.mu.Lock()
	if m, ok := l.images[name]; ok {
		l.mu.Unlock()
		return m, nil
	}
	l.mu.Unlock()

	dir := filepath.Join(l.solution, name)
	if !manifest.Exists(dir) {
		return nil, ErrNoMatch
	}
	p, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	l.watchProject(p)

	sources, err := p.SourceFiles()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	refs, err := l.resolveReferences(ctx, p)
	if err != nil {
		return nil, err
	}

	result, err := l.toolchain.Compile(ctx, CompileRequest{
		Name:       p.Name,
		ProjectDir: p.ProjectDir,
		Sources:    sources,
		References: refs,
		Options:    p.CompilationOptions,
	})
	if err != nil {
		return nil, err
	}

	wasm := result.Binary
	path := result.BinaryPath
	if wasm == nil {
		wasm, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
	} else {
		path = l.writeSidecar(p.Name, wasm, result.Symbols)
	}

	compiled, err := l.runtime.Compile(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	instance, err := l.runtime.Instantiate(ctx, compiled, p.Name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	m := &Module{Name: p.Name, Compiled: compiled, Instance: instance, Path: path}
	l.mu.Lock()
	l.images[name] = m
	l.mu.Unlock()
	l.logger.Debug("module loaded", "name", p.Name, "sources", len(sources), "references", len(refs))
	return m, nil
}

// watchProject registers interest in the project tree: every
// directory, filtered downstream by source extension, plus the
// manifest file. Registration failure is a warning, never an error.
func (l *SourceLoader) watchProject(p *manifest.Project) {
	if l.watcher == nil {
		return
	}
	add := func(path string) {
		if err := l.watcher.Add(path); err != nil {
			l.logger.Warn("file watch registration failed", "path", path, "error", err)
		}
	}
	_ = filepath.WalkDir(p.ProjectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			add(path)
		}
		return nil
	})
	add(p.ProjectFilePath)
}

// resolveReferences gathers the compiled image paths for every
// declared dependency, in parallel. Preference order: a module this
// loader already compiled, then a module the container can load, then
// an installed package's binary, then the framework reference set.
// The framework baseline is always appended.
func (l *SourceLoader) resolveReferences(ctx context.Context, p *manifest.Project) ([]string, error) {
	deps := p.Dependencies(l.profile)
	refs := make([]string, len(deps))

	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range deps {
		g.Go(func() error {
			ref, err := l.resolveReference(gctx, dep)
			if err != nil {
				return err
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	seen := map[string]bool{}
	for _, r := range append(refs, l.baseline()...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

func (l *SourceLoader) resolveReference(ctx context.Context, dep library.Dependency) (string, error) {
	name := dep.Range.Name

	l.mu.Lock()
	m, ok := l.images[name]
	l.mu.Unlock()
	if ok {
		return m.Path, nil
	}

	if l.container != nil && !dep.Range.FrameworkReference {
		switch m, err := l.container.Load(ctx, name); {
		case err == nil:
			return m.Path, nil
		case !errors.Is(err, ErrNoMatch):
			return "", err
		}
	}

	if l.store != nil && !dep.Range.FrameworkReference {
		if actual, versions, err := l.store.Lookup(name); err == nil && len(versions) > 0 {
			best := versions[len(versions)-1]
			if pkg, err := l.store.Open(actual, best.String()); err == nil {
				if path, ok := pkg.BinaryPath(actual, l.profile); ok {
					return path, nil
				}
			}
		}
	}

	for _, asm := range l.references[l.profile] {
		if strings.EqualFold(asm.Name, name) {
			return asm.Path, nil
		}
	}

	// Unresolvable references surface as compiler diagnostics rather
	// than aborting the reference scan.
	l.logger.Warn("reference not resolved", "name", name)
	return "", nil
}

// baseline is the framework's own reference-assembly set.
func (l *SourceLoader) baseline() []string {
	asms := l.references[l.profile]
	out := make([]string, 0, len(asms))
	for _, asm := range asms {
		out = append(out, asm.Path)
	}
	return out
}

// writeSidecar stores an in-memory build's image and debug payload
// under the solution's sidecar directory, so dependent projects can
// reference the image by path. Returns the image path, empty when the
// write failed.
func (l *SourceLoader) writeSidecar(name string, binary, symbols []byte) string {
	dir := filepath.Join(l.solution, SymbolsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("build sidecar unavailable", "dir", dir, "error", err)
		return ""
	}
	path := filepath.Join(dir, name+".wasm")
	if err := os.WriteFile(path, binary, 0o644); err != nil {
		l.logger.Warn("image write failed", "path", path, "error", err)
		path = ""
	}
	if len(symbols) > 0 {
		sidecar := filepath.Join(dir, name+".symbols")
		if err := os.WriteFile(sidecar, symbols, 0o644); err != nil {
			l.logger.Warn("symbols write failed", "path", sidecar, "error", err)
		}
	}
	return path
}
