package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"maestro/internal/bus"
	"maestro/internal/config"
	"maestro/internal/core"
	"maestro/internal/logging"
	"maestro/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool surface over MCP stdio",
	Long: `Start the MCP server on stdin/stdout. The host dispatches tool calls
(plan, coordinate, analyze, ...) as JSON-RPC; all diagnostics go to
stderr and the category log files under the state dir.

The config file is watched: edits to <state-dir>/config.yaml apply to
logging and sync settings without a restart.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(stateDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Initialize(cfg.StateDir); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	defer logging.CloseAll()

	c, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("shutdown left state unflushed", zap.Error(err))
		}
	}()

	watcher, err := config.Watch(cfg.StateDir, func(updated *config.Config) {
		logger.Info("configuration reloaded", zap.String("state_dir", updated.StateDir))
		if err := logging.ReloadConfig(); err != nil {
			logger.Warn("logging reload failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	if verbose {
		events := c.Events().Subscribe(bus.PlanCompleted, bus.PlanFailed, bus.ExecutionRecorded)
		go func() {
			for ev := range events {
				logger.Debug("event", zap.String("type", string(ev.Type)), zap.Any("payload", ev.Payload))
			}
		}()
	}

	logger.Info("maestro serving on stdio",
		zap.String("state_dir", cfg.StateDir),
		zap.String("embedding_provider", cfg.Embedding.Provider))

	// Blocks until the host closes stdin.
	return mcp.New(c, version).Serve()
}
