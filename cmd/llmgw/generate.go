package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
)

// addCallFlags registers the flags shared by generate and chat
func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("provider", "p", "", "Send the call to this provider")
	cmd.Flags().Int("max-tokens", 0, "Maximum completion tokens")
	cmd.Flags().Float64("temperature", -1, "Sampling temperature (provider default when unset)")
	cmd.Flags().Bool("no-cache", false, "Bypass the response cache")
	cmd.Flags().Bool("json", false, "Print the full result as JSON")
}

func callParams(cmd *cobra.Command) (providers.Params, []gateway.CallOption) {
	var params providers.Params
	params.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")
	if temperature, _ := cmd.Flags().GetFloat64("temperature"); temperature >= 0 {
		params.Temperature = &temperature
	}

	var opts []gateway.CallOption
	if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
		opts = append(opts, gateway.WithProvider(provider))
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		opts = append(opts, gateway.WithoutCache())
	}
	return params, opts
}

func printResult(cmd *cobra.Command, result *providers.Result) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return err
}

func (c *cli) generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Run a single text completion through the gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, opts := callParams(cmd)
			req := &providers.GenerateRequest{Prompt: strings.Join(args, " "), Params: params}

			return c.withDependencies(cmd, func(deps *app.Dependencies) error {
				result, err := deps.Gateway.Generate(cmd.Context(), req, opts...)
				if err != nil {
					return err
				}
				return printResult(cmd, result)
			})
		},
	}
	addCallFlags(cmd)
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a chat completion through the gateway",
		Long:  "Run a chat completion. Each --message is role:content, for example --message user:hello.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringArray("message")
			messages, err := parseMessages(raw)
			if err != nil {
				return err
			}
			params, opts := callParams(cmd)
			req := &providers.ChatRequest{Messages: messages, Params: params}

			return c.withDependencies(cmd, func(deps *app.Dependencies) error {
				result, err := deps.Gateway.Chat(cmd.Context(), req, opts...)
				if err != nil {
					return err
				}
				return printResult(cmd, result)
			})
		},
	}
	cmd.Flags().StringArrayP("message", "m", nil, "Message as role:content (repeatable)")
	_ = cmd.MarkFlagRequired("message")
	addCallFlags(cmd)
	return cmd
}

// parseMessages splits role:content pairs
func parseMessages(raw []string) ([]providers.ChatMessage, error) {
	messages := make([]providers.ChatMessage, 0, len(raw))
	for _, m := range raw {
		role, content, ok := strings.Cut(m, ":")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("invalid message %q: want role:content", m)
		}
		messages = append(messages, providers.ChatMessage{Role: role, Content: strings.TrimSpace(content)})
	}
	return messages, nil
}
