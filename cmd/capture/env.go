package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/hpungsan/capture/internal/config"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/export"
	"github.com/hpungsan/capture/internal/logging"
	"github.com/hpungsan/capture/internal/mcp"
	"github.com/hpungsan/capture/internal/ops"
	"github.com/hpungsan/capture/internal/orchestrator"
)

// appEnv is everything a command needs, built once in main.
type appEnv struct {
	baseDir string
	cfg     *config.Config
	db      *sql.DB
	svc     *ops.Service
	logger  *slog.Logger
}

// openEnv loads config, sets up logging and opens the staging database in
// the data directory.
func openEnv() (*appEnv, error) {
	baseDir, err := config.BaseDir()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cfg, err := config.LoadWithVault(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	return newEnv(baseDir, cfg, database, logger), nil
}

func newEnv(baseDir string, cfg *config.Config, database *sql.DB, logger *slog.Logger) *appEnv {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &appEnv{
		baseDir: baseDir,
		cfg:     cfg,
		db:      database,
		svc:     ops.New(database, cfg, logger),
		logger:  logger,
	}
}

// Close releases the database. Safe to call more than once.
func (e *appEnv) Close() {
	if e == nil || e.db == nil {
		return
	}
	_ = e.db.Close()
	e.db = nil
}

// newExporter validates the export settings and builds the vault writer.
func (e *appEnv) newExporter() (*export.Exporter, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	exporter, err := export.New(export.Options{
		VaultRoot: e.cfg.VaultRoot,
		InboxDir:  e.cfg.InboxDir,
		Ext:       e.cfg.ExportExt,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return exporter, nil
}

// newOrchestrator wires the staging store, audit trail and exporter.
func (e *appEnv) newOrchestrator() (*orchestrator.Orchestrator, *export.Exporter, error) {
	exporter, err := e.newExporter()
	if err != nil {
		return nil, nil, err
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Store:  e.svc.Store(),
		Audit:  e.svc.Audit(),
		Writer: exporter,
		Policy: orchestrator.PolicyFromConfig(e.cfg),
		Logger: e.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, exporter, nil
}

// warnUnknownTools logs disabled_tools entries that name no MCP tool.
func (e *appEnv) warnUnknownTools() {
	if unknown := mcp.ValidateDisabledTools(e.cfg.DisabledTools); len(unknown) > 0 {
		e.logger.Warn("unknown tools in disabled_tools",
			logging.Any("tools", unknown),
			logging.Any("known", mcp.AllToolNames()),
		)
	}
}
