package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/services/providers"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDependencies(cmd, func(deps *app.Dependencies) error {
				results := deps.Gateway.HealthCheck(cmd.Context())
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				for _, ok := range results {
					if ok {
						return nil
					}
				}
				return fmt.Errorf("no healthy providers")
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print gateway configuration and provider statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDependencies(cmd, func(deps *app.Dependencies) error {
				return writeJSON(cmd.OutOrStdout(), deps.Gateway.Stats())
			})
		},
	}
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models <provider>",
		Short: "List the models an upstream provider serves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return c.withDependencies(cmd, func(deps *app.Dependencies) error {
				p, ok := deps.Gateway.Provider(name)
				if !ok {
					return fmt.Errorf("provider %q is not configured", name)
				}
				lister, ok := p.(providers.ModelLister)
				if !ok {
					return fmt.Errorf("provider %q cannot list models", name)
				}
				models, err := lister.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				for _, m := range models {
					fmt.Fprintln(cmd.OutOrStdout(), m)
				}
				return nil
			})
		},
	}
}
