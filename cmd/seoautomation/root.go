package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-automation/internal/api"
	"github.com/JakeFAU/seo-automation/internal/config"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
	"github.com/JakeFAU/seo-automation/internal/server"
)

// application is the slice of *server.App the commands use, so tests can inject a fake.
type application interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Onboarder() api.Onboarder
}

type appFactory func(ctx context.Context, cfg config.Config) (application, error)

func buildApp(ctx context.Context, cfg config.Config) (application, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type cli struct {
	configPath string
	newApp     appFactory
	app        application
}

func newRootCmd(newApp appFactory) *cobra.Command {
	c := &cli{newApp: newApp}
	cmd := &cobra.Command{
		Use:   "seoautomation",
		Short: "Website analysis and SEO content pipeline service.",
		Long: `seoautomation crawls a website, builds a business profile for it, and
tracks keywords, generated pages, publication, indexing, and answer-engine
visibility through their pipeline states.`,
		SilenceUsage: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := c.newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.app = app
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (YAML, JSON, or TOML)")

	cmd.AddCommand(c.newServeCmd(), c.newAnalyzeCmd())
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Run(cmd.Context())
		},
	}
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var (
		ownerID int64
		name    string
	)
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Create a project for a website and analyze it once",
		Long: `analyze crawls the URL, stores the project, and prints it as JSON.
A crawl failure still prints the failed project and exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				err = errors.Join(err, c.app.Close(context.WithoutCancel(cmd.Context())))
			}()
			project, runErr := c.app.Onboarder().CreateAndAnalyze(cmd.Context(), args[0], ownerID, name)
			if project.ID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(project); encErr != nil {
					return fmt.Errorf("write project: %w", encErr)
				}
			}
			if runErr != nil {
				if errors.Is(runErr, pipeline.ErrCrawlFailed) {
					return fmt.Errorf("website could not be crawled: %w", runErr)
				}
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&ownerID, "owner", 1, "owner id for the new project")
	cmd.Flags().StringVar(&name, "name", "", "project name (default: the URL host)")
	return cmd
}
