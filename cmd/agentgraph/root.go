package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/martinemde/agentgraph/config"
	"github.com/martinemde/agentgraph/internal/logging"
)

var (
	configPath string
	threadFlag string
	verbose    bool
	workDir    string

	version = "dev"
)

// loaded holds what PersistentPreRunE prepared for the subcommand.
var loaded struct {
	cfg    *config.Config
	logger zerolog.Logger
}

var rootCmd = &cobra.Command{
	Use:   "agentgraph",
	Short: "Interactive coding agent with resumable conversations",
	Long: `agentgraph drives a language model through a fixed graph of steps:
budget check, model call, tool confirmation, tool execution and
summarization. Every step is checkpointed, so a conversation can be
resumed after a crash or restart.

Quick Start:
  agentgraph chat                 # start or continue the current thread
  agentgraph state                # show the current thread's state
  agentgraph history              # list checkpoints
  agentgraph compact              # summarize older history now
  agentgraph clear                # start a fresh thread
  agentgraph mode accept-edits    # change the default permission mode`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err := logging.New(level, cfg.Log.Pretty)
		if err != nil {
			return err
		}
		loaded.cfg = cfg
		loaded.logger = logger
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./agentgraph.yaml or ~/.agentgraph/agentgraph.yaml)")
	rootCmd.PersistentFlags().StringVar(&threadFlag, "thread", "", "thread id (default: the current thread)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", ".", "project directory the agent works in")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(chatCmd, stateCmd, historyCmd, compactCmd, clearCmd, modeCmd)
}

func requireLoaded() (*config.Config, error) {
	if loaded.cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return loaded.cfg, nil
}
