// Command kiln is the modular application host: it restores project
// dependencies into the local package store and runs applications
// through the in-process loader.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kiln:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kiln",
		Short:         "modular application host and package manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogging()
		},
	}

	viper.SetDefault("trace", 0)
	_ = viper.BindEnv("trace", "TRACE")
	_ = viper.BindEnv("port", "COMPILATION_SERVER_PORT")

	root.AddCommand(newRestoreCmd(), newRunCmd())
	return root
}

// configureLogging maps the TRACE level onto the process logger:
// 0 warnings and errors, 1 informational, 2 debug.
func configureLogging() {
	level := charmlog.WarnLevel
	switch viper.GetInt("trace") {
	case 1:
		level = charmlog.InfoLevel
	case 2:
		level = charmlog.DebugLevel
	}
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "kiln",
	})
	slog.SetDefault(slog.New(logger))
}

// exitCode maps an error to the process exit status, preserving a
// hook's or application's own exit code when one is carried.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return 1
}
