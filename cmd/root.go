// Package cmd defines and implements the CLI commands for the wikigames executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/api"
	"github.com/JakeFAU/wikigames-crawler/internal/app"
	"github.com/JakeFAU/wikigames-crawler/internal/config"
	"github.com/JakeFAU/wikigames-crawler/internal/logging"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Seeder() api.Seeder
	Drain(ctx context.Context) error
	Work(ctx context.Context) error
	Serve(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg config.Config
	app App
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	a, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "wikigames",
		Short: "Crawls Wikipedia's video game articles into a relational catalog.",
		Long: `wikigames discovers video game articles through categories, template
transclusions and page enumeration, extracts their infoboxes and stores games,
companies, platforms, engines, genres, modes and series in a normalized catalog.`,
		SilenceUsage: true,

		// Build the application once the flags are parsed and hand it to the
		// subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, app: appInstance})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return nil
			}
			return rt.app.Close(context.WithoutCancel(cmd.Context()))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newScrapeCmd(),
		newDiscoverByTemplateCmd(),
		newScanAllCmd(),
		newSyncGamesCmd(),
		newWorkCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
