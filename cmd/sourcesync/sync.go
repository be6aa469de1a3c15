package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/server"
)

func newSyncCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync <source-id>",
		Short: "Collect one source now and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			cfg.Scheduler.DisableTicker = true

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

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			report, err := app.Sync(ctx, args[0])
			if err != nil {
				return fmt.Errorf("sync %s: %w", args[0], err)
			}
			return printSyncReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum time to wait for the collection")
	return cmd
}

// printSyncReport writes one line describing the worker's result and returns
// an error unless the collection succeeded.
func printSyncReport(out io.Writer, report server.SyncReport) error {
	res, source := report.Result, report.Source
	switch {
	case res.Discarded:
		fmt.Fprintf(out, "%s (%s): skipped, source is %s\n", source.Name, source.ID, res.State)
		return fmt.Errorf("sync %s discarded", source.ID)
	case res.Err != nil && res.State == lifecycle.StateErroring:
		fmt.Fprintf(out, "%s (%s): failed: %v (consecutive errors: %d)\n",
			source.Name, source.ID, res.Err, source.SyncErrors)
		return fmt.Errorf("sync %s failed", source.ID)
	case res.Err != nil:
		fmt.Fprintf(out, "%s (%s): failed: %v\n", source.Name, source.ID, res.Err)
		return fmt.Errorf("sync %s failed", source.ID)
	}
	fmt.Fprintf(out, "%s (%s): %d new documents, %d total, next sync %s\n",
		source.Name, source.ID, res.Documents, source.TotalDocuments,
		source.NextSync.Format(time.RFC3339))
	return nil
}
