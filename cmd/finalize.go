package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
)

// newFinalizeCmd creates and configures the 'finalize' subcommand.
func newFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <results.json>",
		Short: "Retries the failed records of a result document",
		Long: `Re-extracts every errored record of an existing result document on a
single browser session, one URL at a time, and rewrites the document in place.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(runFinalizeCommand),
	}
	cmd.Flags().Int("max-retries", 2, "attempts per URL")
	cmd.Flags().Duration("delay", 2*time.Second, "pause between retried URLs")
	return cmd
}

func runFinalizeCommand(cmd *cobra.Command, args []string, appInstance App) error {
	ctx := cmd.Context()
	path := args[0]

	reporter, runID, logger, err := startRun(appInstance, operationFinalize)
	if err != nil {
		return err
	}
	extractor := extract.New(appInstance.GetConfig().ExtractConfig(), logger)
	stats, err := runFinalize(ctx, appInstance, extractor, reporter, logger, path)
	if err != nil {
		return err
	}

	doc, err := appInstance.GetStore().Load(path)
	if err != nil {
		return fmt.Errorf("reload results: %w", err)
	}
	notify(ctx, appInstance, logger, crawler.Summary{
		RunID:      runID,
		Operation:  operationFinalize,
		OutputPath: path,
		Total:      doc.TotalVideos,
		Successful: doc.SuccessfulExtractions,
		Failed:     doc.FailedExtractions,
		FinishedAt: appInstance.GetClock().Now().UTC(),
	})
	fmt.Fprintf(cmd.OutOrStdout(), "retried %d records: %d recovered, %d still failed\n",
		stats.Retried, stats.Successful, stats.StillFailed)
	return nil
}
