// Package cmd defines the roundup-crawler CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/app"
	"github.com/JakeFAU/roundup-crawler/internal/audit"
	"github.com/JakeFAU/roundup-crawler/internal/config"
	"github.com/JakeFAU/roundup-crawler/internal/logging"
	"github.com/JakeFAU/roundup-crawler/internal/processor"
)

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface the subcommands use. Tests swap in a fake through newApp.
type App interface {
	Fetch(ctx context.Context) (processor.Summary, error)
	Audit(ctx context.Context) (audit.Report, error)
	Close(ctx context.Context)
}

type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

var newApp appFactory = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

type rootOptions struct {
	cfgFile string
	envFile string
}

// newRootCmd creates the root command. Config, logger and App are built in
// PersistentPreRunE so every subcommand shares them.
func newRootCmd(factory appFactory) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "roundup-crawler",
		Short: "Fetches the articles linked from news roundups, resumably.",
		Long: `roundup-crawler reads a directory of roundup documents, fetches the article
behind every left, center and right story link, and checkpoints the enriched
records so an interrupted run picks up where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Development(cfg.Logging.Development))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			appInstance, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{app: appInstance, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file exported before config is read")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

// session is what PersistentPreRunE hands to the subcommand.
type session struct {
	app    App
	logger *zap.Logger
	once   sync.Once
}

func (s *session) release(ctx context.Context) {
	s.once.Do(func() {
		s.app.Close(ctx)
		_ = s.logger.Sync() //nolint:errcheck // stdout sync fails on some terminals
	})
}

// resolveApp returns the App and a release func the subcommand must defer.
// Cobra skips post-run hooks when RunE fails, so cleanup cannot live there.
func resolveApp(ctx context.Context) (App, func(), error) {
	s, ok := ctx.Value(appKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, func() {}, errors.New("application not initialized")
	}
	return s.app, func() { s.release(ctx) }, nil
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := newRootCmd(newApp)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(root.ErrOrStderr(), "interrupted; progress has been saved")
		return ExitInterrupted
	default:
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return ExitFailure
	}
}
