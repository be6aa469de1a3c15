package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/importer"
	"github.com/JakeFAU/sourcesync/internal/ingest"
)

func newImportCmd() *cobra.Command {
	var (
		opts     importer.Options
		interval string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a FILE source from a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if dryRun {
				parsed, err := importer.ParseFile(args[0], opts.Sheet)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d rows accepted, %d skipped\n", len(parsed.Rows), len(parsed.Skipped))
				for _, skipped := range parsed.Skipped {
					fmt.Fprintf(out, "  row %d: %s\n", skipped.Row, skipped.Error)
				}
				return nil
			}

			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), cfg.Server.ShutdownTimeout)
				defer cancel()
				if cerr := app.Close(closeCtx); cerr != nil {
					app.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			opts.Interval = ingest.Interval(strings.ToUpper(interval))
			report, err := importer.New(app.Lifecycle(), app.Logger()).Import(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			fmt.Fprintf(out, "created source %s (%s): %d rows, %d skipped\n",
				report.Source.Name, report.Source.ID, report.Rows, len(report.Skipped))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "source name (defaults to the file name)")
	cmd.Flags().StringVar(&interval, "interval", string(ingest.IntervalWeekly), "sync interval")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "tags applied to the source")
	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "worksheet to read from an XLSX file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse the file and report rows without creating a source")
	return cmd
}
