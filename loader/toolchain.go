package loader

import (
	"context"
	"strings"
)

// CompileRequest carries everything a toolchain needs to build one
// assembly.
type CompileRequest struct {
	Name       string
	ProjectDir string
	Sources    []string
	// References are paths to compiled images the build compiles
	// against.
	References []string
	Options    map[string]any
	// OutputDir, when set, asks for a file-pair build under it;
	// otherwise the toolchain returns in-memory bytes.
	OutputDir string
}

// CompileResult is a toolchain's output: either an on-disk binary path
// or in-memory bytes, plus an optional debug-symbol payload.
type CompileResult struct {
	Binary     []byte
	BinaryPath string
	Symbols    []byte
}

// CompileError carries the toolchain's diagnostics for a failed build.
type CompileError struct {
	Name        string
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return "compiling " + e.Name + ":\n" + strings.Join(e.Diagnostics, "\n")
}

// Toolchain compiles project sources to a wasm image.
type Toolchain interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}
