package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/codeshelf/internal/repository"
	sqliteRepo "github.com/sakif/codeshelf/internal/repository/sqlite"
)

func facetsCmd(envFile *string) *cobra.Command {
	var rebuild, scan bool

	cmd := &cobra.Command{
		Use:   "facets",
		Short: "Print the language, framework and tag indexes",
		Long: `Print every distinct language, framework and tag currently in use.

With --rebuild the facet table is first recomputed from the snippets table,
which repairs counts after manual edits to the database. With --scan each
kind is also derived from a full scan and compared with the index; any
difference is reported and the command fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())

			db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			if rebuild {
				if err := db.RebuildFacets(ctx); err != nil {
					return err
				}
				logger.Info("facet index rebuilt")
			}
			if err := printFacets(cmd, db); err != nil {
				return err
			}
			if scan {
				return checkFacets(cmd, db)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Recompute the facet index before printing")
	cmd.Flags().BoolVar(&scan, "scan", false, "Compare the index with a full scan of the snippets")
	return cmd
}

func printFacets(cmd *cobra.Command, store repository.SnippetRepository) error {
	out := cmd.OutOrStdout()
	for _, kind := range repository.FacetKinds {
		values, err := store.Facets(cmd.Context(), kind)
		if err != nil {
			return err
		}
		writeFacetLine(out, string(kind), values)
	}
	return nil
}

// checkFacets prints scan results that disagree with the index.
func checkFacets(cmd *cobra.Command, store repository.SnippetRepository) error {
	out := cmd.OutOrStdout()
	var stale []string
	for _, kind := range repository.FacetKinds {
		indexed, err := store.Facets(cmd.Context(), kind)
		if err != nil {
			return err
		}
		scanned, err := store.ScanFacets(cmd.Context(), kind)
		if err != nil {
			return err
		}
		if slices.Equal(indexed, scanned) {
			continue
		}
		stale = append(stale, string(kind))
		writeFacetLine(out, string(kind)+" (scan)", scanned)
	}
	if len(stale) > 0 {
		return fmt.Errorf("facet index is stale for %s; run with --rebuild", strings.Join(stale, ", "))
	}
	fmt.Fprintln(out, "index matches scan")
	return nil
}

func writeFacetLine(w io.Writer, label string, values []string) {
	if len(values) == 0 {
		fmt.Fprintf(w, "%s: (none)\n", label)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(values, ", "))
}
