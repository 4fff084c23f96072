package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/probe"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			sessions, err := env.history.ListSessions(cmd.Context(), env.cfg.Token)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the stored messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			msgs, err := env.history.GetMessages(cmd.Context(), env.cfg.Token, args[0])
			if err != nil {
				return fmt.Errorf("failed to load session %s: %w", args[0], err)
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			models, err := env.history.ListModels(cmd.Context(), env.cfg.Token)
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}
			printModels(cmd.OutOrStdout(), models)
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage per-agent model configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the model configured for each agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			cfgs, err := env.history.ListModelConfigs(cmd.Context(), env.cfg.Token)
			if err != nil {
				return fmt.Errorf("failed to list model configs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(cfgs) == 0 {
				fmt.Fprintln(out, dateStyle.Render("No agent overrides; the server defaults apply."))
				return nil
			}
			for _, c := range cfgs {
				fmt.Fprintf(out, "%s %s/%s %s\n", titleStyle.Render(c.AgentType), c.Provider, c.ModelName, idStyle.Render(c.APIKey))
			}
			return nil
		},
	})

	var set domain.ModelConfig
	setCmd := &cobra.Command{
		Use:   "set <agent-type>",
		Short: "Bind a model to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			cfg := set
			cfg.AgentType = args[0]
			if err := env.history.SaveModelConfig(cmd.Context(), env.cfg.Token, cfg); err != nil {
				return fmt.Errorf("failed to save model config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("saved"))
			return nil
		},
	}
	setCmd.Flags().StringVar(&set.Provider, "provider", "", "Model provider")
	setCmd.Flags().StringVar(&set.ModelName, "model", "", "Model name")
	setCmd.Flags().StringVar(&set.APIKey, "api-key", "", "Provider API key")
	setCmd.Flags().StringVar(&set.BaseURL, "model-base-url", "", "Provider base URL")
	_ = setCmd.MarkFlagRequired("provider")
	_ = setCmd.MarkFlagRequired("model")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <agent-type>",
		Short: "Remove an agent's model binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			if err := env.history.DeleteModelConfig(cmd.Context(), env.cfg.Token, args[0]); err != nil {
				return fmt.Errorf("failed to delete model config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("deleted"))
			return nil
		},
	})
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the server's gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := probe.Check(ctx, env.cfg.GRPCHealthAddr)
			if err != nil {
				return err
			}
			label := errorStyle.Render(status.String())
			if status == healthpb.HealthCheckResponse_SERVING {
				label = okStyle.Render(status.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", env.cfg.GRPCHealthAddr, label)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("server is %s", status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the server")
	return cmd
}
