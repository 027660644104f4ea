package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/internal/observability"
)

// cli carries the viper instance shared by every subcommand
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "llmgw",
		Short:         "LLM gateway operator CLI",
		Long:          "llmgw serves the gateway API or runs one-off generations, health checks and stats against the configured providers.",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.v.SetEnvPrefix("LLMGW")
			c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			c.v.AutomaticEnv()
		},
	}

	root.PersistentFlags().String("providers-file", "", "Provider manifest (overrides LLM_PROVIDERS_FILE)")
	root.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	root.PersistentFlags().String("log-format", "", "Log format: json or text (overrides LOG_FORMAT)")

	_ = c.v.BindPFlag("providers_file", root.PersistentFlags().Lookup("providers-file"))
	_ = c.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(
		c.serveCmd(),
		c.generateCmd(),
		c.chatCmd(),
		c.healthCmd(),
		c.statsCmd(),
		c.modelsCmd(),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides
func (c *cli) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}
	if file := c.v.GetString("providers_file"); file != "" {
		cfg.Providers.File = file
	}
	if level := c.v.GetString("log_level"); level != "" {
		cfg.Observability.LogLevel = level
	}
	if format := c.v.GetString("log_format"); format != "" {
		cfg.Observability.LogFormat = format
	}
	return cfg, nil
}

// logger builds the CLI logger. One-off commands log warnings only unless
// a level is given.
func (c *cli) logger(cfg *config.Config, oneOff bool) (*zap.Logger, error) {
	level := cfg.Observability.LogLevel
	if oneOff && c.v.GetString("log_level") == "" {
		level = "warn"
	}
	return observability.NewLogger(level, cfg.Observability.LogFormat)
}

// withDependencies wires the gateway for a one-off command and closes it afterwards
func (c *cli) withDependencies(cmd *cobra.Command, fn func(deps *app.Dependencies) error) error {
	ctx := cmd.Context()
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Observability.MetricsEnabled = false

	logger, err := c.logger(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.WithoutCancel(ctx)) }()

	return fn(deps)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
