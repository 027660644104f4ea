package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/internal/server"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if addr := c.v.GetString("host"); addr != "" {
				cfg.Server.Host = addr
			}
			if port := c.v.GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			logger, err := c.logger(cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("starting llmgw serve", zap.String("addr", cfg.Server.Address()))
			return server.Run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().String("host", "", "Listen host (overrides SERVER_HOST)")
	cmd.Flags().Int("port", 0, "Listen port (overrides PORT)")
	_ = c.v.BindPFlag("host", cmd.Flags().Lookup("host"))
	_ = c.v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}
