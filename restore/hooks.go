package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kiln-host/kiln/manifest"
)

// Hook names run by the driver, in order around the restore.
const (
	HookPreRestore  = "prerestore"
	HookPostRestore = "postrestore"
	HookPrepare     = "prepare"
)

// HookError carries a failed hook's name and captured error output.
type HookError struct {
	Hook   string
	Stderr string
	Err    error
}

func (e *HookError) Error() string {
	msg := fmt.Sprintf("hook %s failed: %v", e.Hook, e.Err)
	if e.Stderr != "" {
		msg += "\n" + strings.TrimRight(e.Stderr, "\n")
	}
	return msg
}

func (e *HookError) Unwrap() error { return e.Err }

// runHook executes one named script from the project's scripts map in
// the project directory. A missing script is a no-op; a non-zero exit
// aborts with the script's stderr attached.
func runHook(ctx context.Context, p *manifest.Project, name string) error {
	script, ok := p.Scripts[name]
	if !ok || strings.TrimSpace(script) == "" {
		return nil
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(script), name)
	if err != nil {
		return &HookError{Hook: name, Err: fmt.Errorf("parse script: %w", err)}
	}

	var stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(p.ProjectDir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, os.Stdout, &stderr),
	)
	if err != nil {
		return &HookError{Hook: name, Err: err}
	}

	if err := runner.Run(ctx, file); err != nil {
		var exit interp.ExitStatus
		if errors.As(err, &exit) {
			return &HookError{Hook: name, Stderr: stderr.String(), Err: fmt.Errorf("exit status %d", uint8(exit))}
		}
		return &HookError{Hook: name, Stderr: stderr.String(), Err: err}
	}
	return nil
}
