package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/fetch"
	"github.com/afsalb/deep-researcher/internal/llm"
	"github.com/afsalb/deep-researcher/internal/render"
	"github.com/afsalb/deep-researcher/internal/research"
	"github.com/afsalb/deep-researcher/internal/search"
	"github.com/afsalb/deep-researcher/internal/server"
	"github.com/afsalb/deep-researcher/internal/store"
	"github.com/afsalb/deep-researcher/internal/telemetry"
)

func main() {
	var configPath string

	root := &cobra.Command{Use: "deepresearcher"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file directory")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	var migDir, direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				dsn = os.Getenv("DATABASE_URL")
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var format string
	runCmd := &cobra.Command{
		Use:   "research [topic]",
		Short: "Run a single research pipeline and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			provider, err := llm.New(cfg.LLM)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "models: %s\n", strings.Join(provider.AvailableModels(), ", "))
			var fetcher research.PageFetcher
			if cfg.Search.FetchFullContent {
				fetcher = fetch.New(cfg.Search.Timeout, cfg.Search.FetchMaxChars)
			}
			tel := telemetry.New(cfg.Telemetry)
			orch := research.NewOrchestrator(cfg, provider, search.NewProviders(cfg.Search), fetcher, tel)

			result, err := orch.Run(ctx, args[0], nil)
			if err != nil {
				return err
			}
			if result.Stage == research.StageErrorNoSources {
				fmt.Fprintln(os.Stderr, result.Message)
				return research.ErrNoSources
			}

			renderer := render.New()
			switch format {
			case "markdown", "md":
				_, err = os.Stdout.Write(renderer.RenderMarkdown(result.Report))
			case "bibtex", "bib":
				_, err = fmt.Print(renderer.RenderBibTeX(result.Report))
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\nrun %s done in %s, %d tokens, $%.4f\n",
				result.ID, result.ProcessingTime.Round(0), result.TokensUsed, result.CostEstimate)
			return nil
		},
	}
	runCmd.Flags().StringVar(&format, "format", "markdown", "output format (markdown, bibtex)")

	root.AddCommand(serve, migrate, runCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
