package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/app"
	"github.com/hamed0406/uptimepipeline/internal/config"
	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/logging"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "uptime",
		Short:         "Distributed uptime pipeline: scheduler, processor and alerter",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (env vars still win)")

	loadConfig := func() (config.Config, error) {
		if configFile == "" {
			return config.FromEnv(), nil
		}
		return config.Load(configFile)
	}

	stage := func(name, short string, stages ...string) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runStages(cmd.Context(), cfg, name, stages...)
			},
		}
	}

	root.AddCommand(
		stage("scheduler", "Sync targets from the registry and publish probe results", app.StageScheduler),
		stage("processor", "Detect state transitions from probe results", app.StageProcessor),
		stage("alerter", "Deliver transition events to the notification channel", app.StageAlerter),
		stage("all", "Run every stage in this process", app.AllStages...),
		newProbeCmd(loadConfig),
	)
	return root
}

func runStages(ctx context.Context, cfg config.Config, name string, stages ...string) error {
	logger, err := logging.NewWithOptions(logging.Options{
		Service: serviceName(cfg, name),
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown_close_error", zap.Error(err))
		}
	}()
	return a.Run(ctx, stages...)
}

// serviceName tags logs with the stage unless SERVICE_NAME overrides it.
func serviceName(cfg config.Config, stage string) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "uptime-" + stage
}

// probe runs one check without any infrastructure and prints the result.
func newProbeCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url>",
		Short: "Check a URL once and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			t, err := domain.Target{ID: "adhoc", URL: args[0], Active: true}.Normalize()
			if err != nil {
				return err
			}
			res := app.New(cfg, zap.NewNop()).Checker().Check(cmd.Context(), t)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.IsUp {
				return fmt.Errorf("%s is down", t.URL)
			}
			return nil
		},
	}
}
