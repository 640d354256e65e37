package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultCompiler is the toolchain binary looked up on PATH when no
// explicit command is configured.
const DefaultCompiler = "knc"

// ExecToolchain invokes an external compiler process. Diagnostics are
// the non-empty lines of the compiler's stderr.
type ExecToolchain struct {
	// Command is the compiler binary; DefaultCompiler if empty.
	Command string
	// Configuration names the build flavour, e.g. "Debug".
	Configuration string
}

// Compile builds one assembly. With an output directory the compiler
// writes `<out>/<name>.wasm` and `<out>/<name>.symbols`; otherwise the
// products are read back and the temporary directory discarded.
func (t *ExecToolchain) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	command := t.Command
	if command == "" {
		command = DefaultCompiler
	}

	outDir := req.OutputDir
	inMemory := outDir == ""
	if inMemory {
		tmp, err := os.MkdirTemp("", "kiln-build-")
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", req.Name, err)
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		outDir = tmp
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", req.Name, err)
	}

	args := []string{"--name", req.Name, "--out", outDir}
	if t.Configuration != "" {
		args = append(args, "--configuration", t.Configuration)
	}
	for _, ref := range req.References {
		args = append(args, "--reference", ref)
	}
	for key, value := range req.Options {
		args = append(args, "--option", fmt.Sprintf("%s=%v", key, value))
	}
	args = append(args, req.Sources...)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = req.ProjectDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diags := diagnosticsFrom(stderr.String())
		if len(diags) == 0 {
			diags = []string{err.Error()}
		}
		return nil, &CompileError{Name: req.Name, Diagnostics: diags}
	}

	binaryPath := filepath.Join(outDir, req.Name+".wasm")
	symbolsPath := filepath.Join(outDir, req.Name+".symbols")
	if !inMemory {
		return &CompileResult{BinaryPath: binaryPath}, nil
	}

	binary, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: compiler produced no output: %w", req.Name, err)
	}
	res := &CompileResult{Binary: binary}
	if symbols, err := os.ReadFile(symbolsPath); err == nil {
		res.Symbols = symbols
	}
	return res, nil
}

func diagnosticsFrom(stderr string) []string {
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
