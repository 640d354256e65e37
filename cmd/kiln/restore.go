package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kiln-host/kiln/restore"
	"github.com/kiln-host/kiln/version"
)

func newRestoreCmd() *cobra.Command {
	var opts restore.Options

	cmd := &cobra.Command{
		Use:   "restore [<path>] [<id> [<version>]]",
		Short: "resolve and install project dependencies",
		Long: `Restore resolves every project manifest under the given path against the
configured package sources, installs missing packages into the local
store, and writes project.lock.json.

With a package id (and optional version) instead of a path, restore
installs that one package and prints its location; no lock file is
written.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = slog.Default()

			if name, ver, ok := packageArgs(args); ok {
				root, err := restore.InstallPackage(cmd.Context(), name, ver, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), root)
				return nil
			}

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			results, err := restore.Restore(cmd.Context(), path, opts)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s: %d package(s) installed\n",
					res.Project.Name, len(res.Installed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PackagesDir, "packages", "", "package store directory")
	cmd.Flags().StringArrayVar(&opts.Sources, "source", nil, "package source URL (repeatable)")
	cmd.Flags().StringArrayVar(&opts.FallbackSources, "fallback-source", nil, "fallback source URL (repeatable)")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&opts.IgnoreFailedSources, "ignore-failed-sources", false, "demote source failures to warnings")
	cmd.Flags().BoolVar(&opts.Lock, "lock", false, "write the lock file locked")
	cmd.Flags().BoolVar(&opts.Unlock, "unlock", false, "re-resolve and write the lock file unlocked")
	cmd.Flags().StringVar(&opts.ConfigFile, "configfile", "", "source configuration file")
	return cmd
}

// packageArgs recognises the install-one-package CLI form: a bare id,
// or an id plus a parseable version, where the id is not an existing
// path.
func packageArgs(args []string) (name, ver string, ok bool) {
	switch len(args) {
	case 1:
		if !pathExists(args[0]) {
			return args[0], "", true
		}
	case 2:
		if _, err := version.Parse(args[1]); err == nil && !pathExists(args[0]) {
			return args[0], args[1], true
		}
	case 3:
		if _, err := version.Parse(args[2]); err == nil {
			return args[1], args[2], true
		}
	}
	return "", "", false
}
