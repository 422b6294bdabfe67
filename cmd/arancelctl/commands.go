package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/arancel/arancel"
	"github.com/hazyhaar/arancel/builder"
	"github.com/hazyhaar/arancel/tariff"
)

func (a *app) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List snapshot versions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vl, err := a.svc.Versions(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(vl)
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [token]",
		Short: "Show which snapshot a version token resolves to, with its metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := a.version
			if len(args) == 1 {
				token = args[0]
			}
			info, err := a.svc.Store.Describe(cmd.Context(), token)
			if err != nil {
				return err
			}
			return a.print(info)
		},
	}
}

func (a *app) latestCmd() *cobra.Command {
	latest := &cobra.Command{
		Use:   "latest",
		Short: "Inspect or move the latest pointer",
	}
	latest.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the version the latest pointer designates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cur, err := a.svc.Store.CurrentVersion()
				if err != nil {
					return err
				}
				return a.print(map[string]string{"current": cur, "path": a.svc.Store.LatestPath()})
			},
		},
		&cobra.Command{
			Use:   "update",
			Short: "Point latest at the greatest version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				upd, err := a.svc.UpdateLatest(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(upd)
			},
		},
		&cobra.Command{
			Use:   "pin <version>",
			Short: "Point latest at a specific existing version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				upd, err := a.svc.Pin(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(upd)
			},
		},
	)
	return latest
}

func (a *app) buildCmd() *cobra.Command {
	var (
		files  arancel.DatasetFiles
		source string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a snapshot from CSV files and advance the latest pointer",
		Long: "Build creates the snapshot for --version (or the version found in the records file name),\n" +
			"loads records, code history and notes in batches, then advances the latest pointer.\n" +
			"Building a version that already exists is a no-op.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if files.Records == "" {
				return errors.New("--records is required")
			}
			version := a.version
			if version == "" {
				v, ok := builder.VersionFromFilename(filepath.Base(files.Records))
				if !ok {
					return fmt.Errorf("no version in %q: pass --version", filepath.Base(files.Records))
				}
				version = v
			}
			if source == "" {
				source = filepath.Base(files.Records)
			}
			ds, err := arancel.LoadDataset(files, tariff.NewRomanTable(a.svc.Config.RomanMax))
			if err != nil {
				return err
			}
			res, err := a.svc.Builder.Load(cmd.Context(), version, source, ds)
			if res != nil {
				if perr := a.print(res); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&files.Records, "records", "", "records CSV (NCM, DESCRIPCION, AEC, ...)")
	cmd.Flags().StringVar(&files.SectionNotes, "sections", "", "section notes CSV (identifier, text)")
	cmd.Flags().StringVar(&files.ChapterNotes, "chapters", "", "chapter notes CSV (identifier, text)")
	cmd.Flags().StringVar(&source, "source", "", "source label stamped into the snapshot (default: records file name)")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "migrate <source> <target>",
		Short: "Overwrite tables of the target snapshot with the source's rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.svc.Migrator.Migrate(cmd.Context(), args[0], args[1], tables)
			if err != nil {
				return err
			}
			if err := a.print(rep); err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("migration incomplete: %w", errors.Join(rep.Warnings()...))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "tables to migrate (default: every table but db_metadata)")
	return cmd
}

func (a *app) lookupCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "lookup <code>",
		Short: "Look up a tariff code, falling back to a prefix listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Codes.Lookup(cmd.Context(), a.version, args[0], limit)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max prefix results (default from config)")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <words...>",
		Short: "Search descriptions, ignoring case and accents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Codes.SearchDescription(cmd.Context(), a.version, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (default from config)")
	return cmd
}

func (a *app) noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "note <section|chapter|code> <id>",
		Short:     "Print a section or chapter note, or the notes of a code",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"section", "chapter", "code"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch args[0] {
			case "section":
				n, err := a.svc.Notes.Section(ctx, a.version, args[1])
				if err != nil {
					return err
				}
				return a.print(n)
			case "chapter":
				n, err := a.svc.Notes.Chapter(ctx, a.version, args[1])
				if err != nil {
					return err
				}
				return a.print(n)
			case "code":
				cn, err := a.svc.Notes.ForCode(ctx, a.version, args[1])
				if err != nil {
					return err
				}
				return a.print(cn)
			default:
				return fmt.Errorf("unknown note kind %q: want section, chapter or code", args[0])
			}
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <code>",
		Short: "Show the recorded imports of a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.svc.Codes.History(cmd.Context(), a.version, args[0])
			if err != nil {
				return err
			}
			return a.print(h)
		},
	}
}
