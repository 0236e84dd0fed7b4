package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "devpulse/cmd/pipeline-service/docs"
	"devpulse/internal/config"
	"devpulse/internal/constants"
	"devpulse/internal/logger"
	"devpulse/pkg/logging"
)

// @title           devpulse Pipeline API
// @version         1.0
// @description     Webhook ingestion, live event stream and delivery audit API

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /

// @schemes   http https

const configFileEnv = "CONFIG_FILE"

var errNoConfig = errors.New("config file is required: pass --config or set " + configFileEnv)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configFile string
	early      *logging.EarlyLog
}

func newRootCmd() *cobra.Command {
	c := &cli{early: logging.NewEarlyLog().WithServiceName(constants.ServiceName)}

	serve := c.serveCmd()
	root := &cobra.Command{
		Use:          "pipeline-service",
		Short:        "Webhook ingestion and real-time event distribution pipeline",
		Long:         "Pipeline service verifies and deduplicates provider webhooks, streams ordered events to live clients and delivers alert notifications",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to the YAML config file (defaults to $"+configFileEnv+")")
	root.AddCommand(serve, c.migrateCmd(), c.configCmd(), rulesCmd())
	return root
}

func (c *cli) load() (*config.Config, error) {
	path := c.configFile
	if path == "" {
		path = os.Getenv(configFileEnv)
	}
	if path == "" {
		return nil, errNoConfig
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

type commandFunc func(cmd *cobra.Command, cfg *config.Config, log logger.Logger) error

// withLogger loads the config and builds the process logger before fn runs.
// Failures before the logger exists go to the early log.
func (c *cli) withLogger(fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := c.load()
		if err != nil {
			c.early.Error("Startup aborted: %v", err)
			return err
		}
		log, err := logger.New(cfg.Logging)
		if err != nil {
			c.early.Error("Failed to init logger: %v", err)
			return err
		}
		defer log.Sync()
		return fn(cmd, cfg, log)
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline service",
		RunE: c.withLogger(func(cmd *cobra.Command, cfg *config.Config, log logger.Logger) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.InfowCtx(ctx, "Starting pipeline service", "port", cfg.Server.Port)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return errors.Join(err, app.Shutdown(context.Background()))
			}
			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		}),
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: c.withLogger(func(cmd *cobra.Command, cfg *config.Config, log logger.Logger) error {
			return runMigrations(cmd.Context(), cfg, log)
		}),
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect service configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file without starting the service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: port=%d admission=%s audit=%s kafka=%t\n",
				cfg.Server.Port, cfg.Admission.Backend, cfg.Audit.Backend, cfg.Broker.Kafka.Enabled)
			return nil
		},
	})
	return cmd
}
