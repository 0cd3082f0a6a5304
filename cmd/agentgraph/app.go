package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/martinemde/agentgraph/checkpoint"
	"github.com/martinemde/agentgraph/config"
	"github.com/martinemde/agentgraph/events"
	"github.com/martinemde/agentgraph/gate"
	"github.com/martinemde/agentgraph/graph"
	"github.com/martinemde/agentgraph/model"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/prompt"
	"github.com/martinemde/agentgraph/tools"
)

const currentThreadFile = "current_thread"

// app is the wired runtime behind the CLI commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *checkpoint.SQLiteStore
	perms    *permission.FileStore
	settings *permission.Live
	client   *model.Client
	exec     *graph.Executor
}

// openStore opens the checkpoint database, creating the data directory.
func openStore(ctx context.Context, cfg *config.Config) (*checkpoint.SQLiteStore, error) {
	path := cfg.CheckpointPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return checkpoint.OpenSQLite(ctx, path)
}

// newApp wires the model client, stores, tools and executor for dir.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, dir string) (*app, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	adapter, err := model.NewGollmAdapter(cfg.Model.Provider,
		model.WithModel(cfg.Model.Name),
		model.WithAPIKey(cfg.Model.APIKey),
		model.WithMaxTokens(cfg.Model.MaxTokens),
		model.WithTemperature(cfg.Model.Temperature),
	)
	if err != nil {
		return nil, err
	}
	retry := model.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Model.MaxRetries
	retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying model call")
	}
	client := model.NewClient(
		model.WithProvider(cfg.Model.Provider, adapter),
		model.WithRetryPolicy(retry),
	)

	store, err := openStore(ctx, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	perms, err := permission.OpenFileStore(cfg.Storage.DataDir, root, tools.Shell)
	if err != nil {
		client.Close()
		store.Close()
		return nil, err
	}

	reg := tools.NewRegistry()
	tools.RegisterCore(reg, tools.ShellConfig{
		DefaultTimeout: cfg.Agent.CommandTimeout,
		MaxTimeout:     tools.DefaultShellConfig().MaxTimeout,
	})
	env := tools.NewLocalEnvironment(root)
	toolExec := tools.NewExecutor(reg, env, tools.WithConcurrency(cfg.Agent.ToolConcurrency))

	settings := permission.NewLive(permission.Settings{
		Mode:          cfg.Mode(),
		Model:         cfg.Model.Name,
		ContextWindow: cfg.Model.ContextWindow,
	})
	builder := prompt.NewBuilder(env,
		prompt.WithProvider(cfg.Model.Provider),
		prompt.WithUserInstructions(cfg.Agent.UserInstructions),
	)

	exec, err := graph.New(graph.Deps{
		Model:    client,
		Store:    store,
		Tools:    toolExec,
		Gate:     gate.New(perms, reg),
		Settings: settings,
	},
		graph.WithLogger(logger),
		graph.WithObserver(events.LogObserver(logger)),
		graph.WithPromptBuilder(builder),
		graph.WithBudget(cfg.Budget()),
		graph.WithProvider(cfg.Model.Provider),
		graph.WithStreaming(cfg.Model.Streaming),
		graph.WithMaxSteps(cfg.Agent.MaxSteps),
		graph.WithLoopDetection(cfg.Agent.LoopWindow),
	)
	if err != nil {
		client.Close()
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		perms:    perms,
		settings: settings,
		client:   client,
		exec:     exec,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.client.Close(), a.store.Close())
}

// currentThread returns the thread recorded in dataDir, starting and
// recording a new one when there is none.
func currentThread(dataDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, currentThreadFile))
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read current thread: %w", err)
	}
	id := uuid.NewString()
	return id, setCurrentThread(dataDir, id)
}

func setCurrentThread(dataDir, id string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, currentThreadFile), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write current thread: %w", err)
	}
	return nil
}

// resolveThread prefers the --thread flag over the recorded thread.
func resolveThread(cfg *config.Config) (string, error) {
	if threadFlag != "" {
		return threadFlag, nil
	}
	return currentThread(cfg.Storage.DataDir)
}
