package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ashureev/nexus-chat/internal/config"
	"github.com/ashureev/nexus-chat/internal/history"
)

var errNoToken = errors.New("no token: pass --token, set NEXUS_TOKEN or add token to the config file")

type rootOptions struct {
	configPath string
	baseURL    string
	token      string
	logLevel   string
}

// clientEnv is the resolved configuration shared by every command.
type clientEnv struct {
	cfg     *config.Client
	logger  *slog.Logger
	history *history.Client
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "nexus-chat",
		Short: "Chat with the nexus multi-agent service",
		Long: `A terminal client for the nexus multi-agent chat service.

Quick Start:
  nexus-chat chat                  # start a new conversation
  nexus-chat chat --session <id>   # continue a stored conversation
  nexus-chat sessions              # list stored conversations
  nexus-chat history <id>          # print a stored conversation`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultClientPath(), "Path to the client config file")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Address of the nexus server (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "Bearer credential (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newChatCmd(opts),
		newSessionsCmd(opts),
		newHistoryCmd(opts),
		newModelsCmd(opts),
		newConfigCmd(opts),
		newHealthCmd(opts),
	)
	return cmd
}

// load resolves the client configuration: file, then NEXUS_* environment,
// then flags.
func (o *rootOptions) load(cmd *cobra.Command) (*clientEnv, error) {
	cfg, err := config.LoadClient(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return &clientEnv{
		cfg:     cfg,
		logger:  logger,
		history: history.NewClient(cfg.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger),
	}, nil
}

// loadAuthed is load plus a required credential.
func (o *rootOptions) loadAuthed(cmd *cobra.Command) (*clientEnv, error) {
	env, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	if env.cfg.Token == "" {
		return nil, errNoToken
	}
	return env, nil
}
