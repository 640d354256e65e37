// Package host resolves and runs applications: manifest command lookup
// with variable expansion, and module execution through the loader
// container.
package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiln-host/kiln/loader"
	"github.com/kiln-host/kiln/manifest"
)

// Invocation is a resolved application launch: the module to load and
// the argument vector handed to it.
type Invocation struct {
	Application string
	Args        []string
}

// ResolveCommand maps a command-or-application name to an invocation.
// Names found in the manifest commands map are expanded; the expansion's
// first token becomes the application and the remainder is prepended to
// the user's args. "run" with no further args resolves to the entry
// point or the project name.
func ResolveCommand(p *manifest.Project, name string, args []string, vars map[string]string) (Invocation, error) {
	if name == "" || name == "run" {
		return Invocation{Application: p.EntryPointOrName(), Args: args}, nil
	}

	command, ok := p.Commands[name]
	if !ok {
		// Not a declared command: treat the name as an application.
		return Invocation{Application: name, Args: args}, nil
	}

	tokens := Expand(command, vars)
	if len(tokens) == 0 {
		return Invocation{}, fmt.Errorf("command %q expands to nothing", name)
	}
	return Invocation{
		Application: tokens[0],
		Args:        append(tokens[1:], args...),
	}, nil
}

// Host executes invocations against a loader container.
type Host struct {
	container *loader.Container
	logger    *slog.Logger
}

// New builds a host over a container.
func New(container *loader.Container, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{container: container, logger: logger}
}

// Run loads the invocation's application module and executes its entry
// function with the argument vector.
func (h *Host) Run(ctx context.Context, inv Invocation) error {
	h.logger.Debug("running application", "application", inv.Application, "args", inv.Args)

	m, err := h.container.Load(ctx, inv.Application)
	if err != nil {
		return err
	}

	entry := m.Instance.ExportedFunction("main")
	if entry == nil {
		// WASI-style modules execute from _start during instantiation;
		// an explicit main export takes precedence when present.
		return nil
	}
	if _, err := entry.Call(ctx); err != nil {
		return fmt.Errorf("application %s: %w", inv.Application, err)
	}
	return nil
}
