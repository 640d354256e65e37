package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/host"
	"github.com/kiln-host/kiln/loader"
	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/store"
)

func newRunCmd() *cobra.Command {
	var (
		watch         bool
		packagesDir   string
		configuration string
		port          int
	)

	cmd := &cobra.Command{
		Use:     "host [<command|app> [args...]]",
		Aliases: []string{"run"},
		Short:   "run an application or manifest command",
		Long: `Host resolves a manifest command (or application name) for the project in
the current directory and executes it through the module loader. With no
argument the manifest's entry point, or the project name, is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()
			if port == 0 {
				port = viper.GetInt("port")
			}

			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			p, err := manifest.Load(dir)
			if err != nil {
				return err
			}

			name := ""
			var rest []string
			if len(args) > 0 {
				name, rest = args[0], args[1:]
			}
			vars := map[string]string{
				"project":       p.Name,
				"configuration": configuration,
				"port":          strconv.Itoa(port),
			}
			inv, err := host.ResolveCommand(p, name, rest, vars)
			if err != nil {
				return err
			}

			st, err := store.New(packagesDir, store.WithLogger(logger))
			if err != nil {
				return err
			}

			profile := framework.Profile{}
			if profiles := p.Profiles(); len(profiles) > 0 {
				profile = profiles[0]
			}

			rt := loader.NewRuntime(cmd.Context(), loader.WithRuntimeLogger(logger))
			defer func() { _ = rt.Close(cmd.Context()) }()

			container := loader.NewContainer()
			sourceOpts := []loader.SourceOption{
				loader.WithContainer(container),
				loader.WithStore(st, framework.NewCompatibilityTable(nil)),
				loader.WithSourceLogger(logger),
			}
			if watch {
				watcher, err := fsnotify.NewWatcher()
				if err != nil {
					logger.Warn("file watching unavailable", "error", err)
				} else {
					defer func() { _ = watcher.Close() }()
					sourceOpts = append(sourceOpts, loader.WithWatcher(watcher))
				}
			}

			toolchain := &loader.ExecToolchain{Configuration: configuration}
			solution := filepath.Dir(p.ProjectDir)

			if err := container.RegisterLoader("source-project",
				loader.NewSource(solution, rt, toolchain, profile, sourceOpts...)); err != nil {
				return err
			}

			return host.New(container, logger).Run(cmd.Context(), inv)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "watch project files for changes")
	cmd.Flags().StringVar(&packagesDir, "packages", "", "package store directory")
	cmd.Flags().StringVar(&configuration, "configuration", "Debug", "build configuration name")
	cmd.Flags().IntVar(&port, "port", 0, "compilation server port")
	return cmd
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
