// Package cmd defines and implements the CLI commands for the metacrawler executable.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/dispatcher"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/finalize"
	"github.com/JakeFAU/video-metadata-crawler/internal/logging"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

const (
	operationExtract  = "extract"
	operationFinalize = "finalize"
)

// newExtractCmd creates and configures the 'extract' subcommand.
func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <links.json>",
		Short: "Extracts metadata for every video link in the input file",
		Long: `Reads a list of video URLs and extracts their metadata with a pool of
browser workers. Results keep the input order and are checkpointed every few
completions; the final document is written next to the input unless --output
is given.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(runExtractCommand),
	}
	flags := cmd.Flags()
	flags.Int("workers", 3, "number of concurrent browser workers")
	flags.String("mode", string(dispatcher.ModeChunked), "work distribution: chunked or queue")
	flags.Duration("delay", 2*time.Second, "pause between items within a worker")
	flags.Int("max-retries", 2, "attempts per URL")
	flags.Int("checkpoint-interval", 10, "completions between partial saves")
	flags.Int("limit", 0, "process only the first N links (0 = all)")
	flags.Bool("finalize", false, "retry failed records after extraction")
	flags.String("output", "", "result document path")
	flags.Bool("no-threading", false, "use a single worker")
	return cmd
}

func runExtractCommand(cmd *cobra.Command, args []string, appInstance App) error {
	cfg := appInstance.GetConfig()
	ctx := cmd.Context()

	links, err := crawler.LoadLinks(args[0])
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	if limit := cfg.Extractor.Limit; limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	output := cfg.Output.Path
	if output == "" {
		output = crawler.DefaultOutputPath(args[0])
	}

	reporter, runID, logger, err := startRun(appInstance, operationExtract)
	if err != nil {
		return err
	}
	dispatchCfg := cfg.DispatchConfig(output)
	if noThreading, _ := cmd.Flags().GetBool("no-threading"); noThreading {
		dispatchCfg.Workers = 1
	}
	extractor := extract.New(cfg.ExtractConfig(), logger)
	d := dispatcher.New(
		dispatchCfg,
		appInstance.GetSessions(),
		extractor,
		appInstance.GetStore(),
		reporter,
		appInstance.GetClock(),
		logger,
	)

	doc, runErr := d.Run(ctx, links)
	if runErr != nil {
		return fmt.Errorf("extract: %w", runErr)
	}

	if cfg.Extractor.Finalize && doc.FailedExtractions > 0 && ctx.Err() == nil {
		if _, err := runFinalize(ctx, appInstance, extractor, reporter, logger, output); err != nil {
			return err
		}
		if doc, err = appInstance.GetStore().Load(output); err != nil {
			return fmt.Errorf("reload results: %w", err)
		}
	}

	summary := crawler.Summary{
		RunID:      runID,
		Operation:  operationExtract,
		OutputPath: output,
		Total:      doc.TotalVideos,
		Successful: doc.SuccessfulExtractions,
		Failed:     doc.FailedExtractions,
		FinishedAt: appInstance.GetClock().Now().UTC(),
	}
	notify(ctx, appInstance, logger, summary)
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %d/%d videos (%d failed) -> %s\n",
		summary.Successful, summary.Total, summary.Failed, output)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("extract interrupted: %w", err)
	}
	return nil
}

// startRun allocates a run ID and binds the progress reporter and logger to it.
func startRun(a App, operation string) (*progress.Reporter, string, *zap.Logger, error) {
	id, err := a.GetIDs().NewID()
	if err != nil {
		return nil, "", nil, fmt.Errorf("new run id: %w", err)
	}
	runID, err := progress.ParseRunID(id)
	if err != nil {
		return nil, "", nil, err
	}
	reporter := progress.NewReporter(a.GetEvents(), runID, operation, a.GetClock().Now)
	return reporter, id, logging.ForRun(a.GetLogger(), id, operation), nil
}

func runFinalize(
	ctx context.Context,
	a App,
	extractor *extract.Extractor,
	events progress.Emitter,
	logger *zap.Logger,
	path string,
) (finalize.Stats, error) {
	f := finalize.New(
		finalize.Config{Delay: a.GetConfig().Extractor.Delay},
		a.GetSessions(),
		extractor,
		a.GetStore(),
		events,
		a.GetClock(),
		logger,
	)
	stats, err := f.Finalize(ctx, path)
	if err != nil {
		return stats, fmt.Errorf("finalize: %w", err)
	}
	return stats, nil
}

// notify publishes the run summary when a publisher is configured. Failures
// are logged; the result document is already on disk.
func notify(ctx context.Context, a App, logger *zap.Logger, summary crawler.Summary) {
	logger.Info("run summary",
		zap.String("output", summary.OutputPath),
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
	)
	pub := a.GetPublisher()
	if pub == nil {
		return
	}
	msgID, err := pub.Publish(context.WithoutCancel(ctx), "", summary)
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	logger.Debug("run summary published", zap.String("message_id", msgID))
}
