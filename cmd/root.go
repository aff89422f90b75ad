// Package cmd defines the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

const closeTimeout = 30 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Crawls is the orchestrator surface the commands use.
type Crawls interface {
	Run(ctx context.Context, req orchestrator.Request) (crawler.Job, error)
	GetJob(ctx context.Context, id string) (crawler.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]crawler.Job, error)
	RunningJob(ctx context.Context) (*crawler.Job, error)
}

// App is what commands need from the application container. Tests inject a
// fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	Crawls() Crawls
	Close(ctx context.Context) error
}

type builtApp struct {
	*app.App
}

func (b builtApp) Crawls() Crawls {
	return b.App.Crawls()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger, version)
	if err != nil {
		return nil, err
	}
	return builtApp{a}, nil
}

// rootState holds the App built for the running command so it can be closed
// after the command returns, whether or not it failed.
type rootState struct {
	app App
}

func (s *rootState) close() error {
	if s.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.app.Close(ctx)
}

func newRootCmd() (*cobra.Command, *rootState) {
	var cfgFile string
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a retail catalog and tracks product prices.",
		Long: `catalog-crawler renders category and product pages of a retail site in a
headless browser, extracts normalized product records, and keeps a price
history for every product it sees. It runs as an HTTP service with an
optional crawl schedule, or as a one-shot CLI.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env CATALOG_* overrides it)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newJobsCmd())
	return cmd, state
}

// execute runs the CLI with args and always closes the App it built.
func execute(ctx context.Context, args []string, out io.Writer) error {
	cmd, state := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, state.close())
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
