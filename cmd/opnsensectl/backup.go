package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opnsensectl/internal/backup"
	"opnsensectl/internal/catalog"
	"opnsensectl/internal/fault"
)

func newBackupCmd(a *app) *cobra.Command {
	var offsite bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the running configuration into the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := []backup.Option{backup.WithLogger(a.log)}
			if offsite {
				mirrors, err := a.mirrors(ctx)
				if err != nil {
					return err
				}
				if len(mirrors) == 0 {
					a.log.Warn("No storage configured, --offsite has no effect")
				}
				opts = append(opts, backup.WithMirrors(mirrors...))
			}

			_, err := backup.New(&lazyAppliance{app: a}, a.cfg.OutputDir, opts...).Backup(ctx)
			return err
		},
	}
	cmd.Flags().BoolVar(&offsite, "offsite", false, "Also copy the backup to every configured storage")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var from string
	var latest bool
	cmd := &cobra.Command{
		Use:   "restore [filename]",
		Short: "Upload a saved configuration; the appliance reboots to apply it",
		Long: "Restore a configuration file. Without a filename the saved backups are\n" +
			"listed and one is chosen interactively; --latest picks the newest.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o := backup.New(&lazyAppliance{app: a}, a.cfg.OutputDir, backup.WithLogger(a.log))

			var name string
			if len(args) == 1 {
				name = args[0]
			}

			if from != "" {
				backend, err := a.findBackend(ctx, from)
				if err != nil {
					return err
				}
				if name == "" {
					entries, err := catalog.ListBackend(ctx, backend)
					if err != nil {
						return err
					}
					entry, err := a.choose(entries, latest)
					if err != nil {
						return err
					}
					name = entry.Key
				}
				return o.RestoreFrom(ctx, backend, name)
			}

			if name == "" {
				entry, err := a.choose(catalog.List(ctx, a.cfg.OutputDir, a.log), latest)
				if err != nil {
					return err
				}
				name = entry.Key
			}
			return o.RestoreFile(ctx, a.resolveLocal(name))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Restore from the named storage instead of the backup directory")
	cmd.Flags().BoolVar(&latest, "latest", false, "Restore the most recent backup without asking")
	return cmd
}

func (a *app) choose(entries []catalog.Entry, latest bool) (catalog.Entry, error) {
	if len(entries) == 0 {
		return catalog.Entry{}, fault.Configurationf("no backups found")
	}
	if latest {
		a.log.Info("Selected latest backup", zap.String("file", entries[0].FileName))
		return entries[0], nil
	}
	entry, err := catalog.Select(entries, a.in)
	if errors.Is(err, catalog.ErrCancelled) {
		a.log.Info("Restore cancelled")
	}
	return entry, err
}

// resolveLocal maps a bare file name that does not exist in the working
// directory onto the backup directory.
func (a *app) resolveLocal(name string) string {
	if filepath.Base(name) != name {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	candidate := filepath.Join(a.cfg.OutputDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}

func newListCmd(a *app) *cobra.Command {
	var from, output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if output != "table" && output != "json" {
				return fault.Configurationf("unsupported --output: %s", output)
			}

			var entries []catalog.Entry
			where := a.cfg.OutputDir
			if from != "" {
				backend, err := a.findBackend(ctx, from)
				if err != nil {
					return err
				}
				if entries, err = catalog.ListBackend(ctx, backend); err != nil {
					return err
				}
				where = backend.Name()
			} else {
				entries = catalog.List(ctx, a.cfg.OutputDir, a.log)
			}

			if output == "json" {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(a.stdout, "No backups found in %s\n", where)
				return nil
			}
			return catalog.Render(a.stdout, entries)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "List the named storage instead of the backup directory")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policies to the backup directory and every storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mirrors, err := a.mirrors(ctx)
			if err != nil {
				return err
			}
			if a.cfg.Retention.IsZero() && !anyRetention(mirrors) {
				a.log.Warn("No retention policy configured, nothing to prune")
				return nil
			}
			deleted, err := backup.New(nil, a.cfg.OutputDir,
				backup.WithLogger(a.log),
				backup.WithRetention(a.cfg.Retention),
				backup.WithMirrors(mirrors...)).Prune(ctx)
			fmt.Fprintf(a.stdout, "Deleted %d backup(s)\n", deleted)
			return err
		},
	}
}

func anyRetention(mirrors []backup.Mirror) bool {
	for _, m := range mirrors {
		if !m.Retention.IsZero() {
			return true
		}
	}
	return false
}
