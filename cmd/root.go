package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/app"
	"github.com/JakeFAU/video-metadata-crawler/internal/checkpoint"
	"github.com/JakeFAU/video-metadata-crawler/internal/config"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/logging"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject a fake.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetClock() crawler.Clock
	GetIDs() crawler.IDGenerator
	GetSessions() crawler.SessionFactory
	GetStore() *checkpoint.Store
	GetPublisher() crawler.Publisher
	GetEvents() progress.Emitter
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "metacrawler",
		Short: "Extracts video metadata with a pool of headless browsers.",
		Long: `metacrawler visits short-form video pages in isolated headless browser
sessions, extracts engagement metadata, and writes an ordered result document
with periodic checkpoints. A finalize pass retries the records that failed.`,
		SilenceUsage: true,

		// Load configuration once flags are parsed, then build and inject the
		// application services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	flags.Bool("dev", true, "development logging (console encoder, debug level)")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	flags.String("http-addr", "", "serve health, metrics and progress on this address")
	flags.Bool("headless", true, "run browsers headless")
	flags.String("chrome-path", "", "browser executable; empty searches PATH")

	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newFinalizeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the injected App for run and closes it when run returns,
// whether or not it failed.
func withApp(run func(cmd *cobra.Command, args []string, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			appInstance.Close()
			_ = appInstance.GetLogger().Sync()
		}()
		return run(cmd, args, appInstance)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command; work finished so far is still saved.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
