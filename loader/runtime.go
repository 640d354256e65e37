package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Module is a loaded assembly: the compiled image kept for reference
// resolution and the live instance.
type Module struct {
	Name     string
	Compiled wazero.CompiledModule
	Instance api.Module
	// Path is the on-disk binary when the module was loaded from a
	// file; empty for in-memory compilations.
	Path string
}

// Runtime wraps the wazero runtime shared by all loaders of a
// container.
type Runtime struct {
	rt     wazero.Runtime
	logger *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime, *wazero.RuntimeConfig)

// WithCompilationCache shares a wazero compilation cache across
// runtimes.
func WithCompilationCache(cache wazero.CompilationCache) RuntimeOption {
	return func(_ *Runtime, cfg *wazero.RuntimeConfig) {
		*cfg = (*cfg).WithCompilationCache(cache)
	}
}

// WithRuntimeLogger receives guest stdout and stderr. A nil logger is
// ignored.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime, _ *wazero.RuntimeConfig) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime builds the wasm runtime with WASI available to guests.
func NewRuntime(ctx context.Context, opts ...RuntimeOption) *Runtime {
	r := &Runtime{logger: slog.Default()}
	cfg := wazero.NewRuntimeConfig()
	for _, opt := range opts {
		opt(r, &cfg)
	}
	r.rt = wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r.rt)
	return r
}

// Compile validates and compiles wasm bytes without instantiating.
func (r *Runtime) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := r.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return compiled, nil
}

// Instantiate creates a live instance from a compiled module under the
// given name. Guest stdout and stderr stream to the runtime logger.
func (r *Runtime) Instantiate(ctx context.Context, compiled wazero.CompiledModule, name string) (api.Module, error) {
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(NewGuestWriter(r.logger, name, slog.LevelInfo)).
		WithStderr(NewGuestWriter(r.logger, name, slog.LevelWarn))
	mod, err := r.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate module %s: %w", name, err)
	}
	return mod, nil
}

// Close releases the runtime and every module it instantiated.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}
