package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ridoystarlord/schemadeploy/config"
	"github.com/ridoystarlord/schemadeploy/database"
	"github.com/ridoystarlord/schemadeploy/deploy"
	"github.com/ridoystarlord/schemadeploy/lock"
	"github.com/ridoystarlord/schemadeploy/logging"
	"github.com/ridoystarlord/schemadeploy/runner"
	"github.com/ridoystarlord/schemadeploy/store"
)

// app holds the components every database command works with.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	backend    database.Backend
	migrations *store.MigrationStore
	projects   *store.ProjectStore
	lease      *lock.Lease
	executor   *runner.Executor
	deployer   *deploy.Deployer
}

func loadConfig() (config.Config, *slog.Logger) {
	cfg := config.Load()
	if logging.LogLevel.IsSet() {
		cfg.LogLevel = logging.LogLevel.String()
	}
	if projectID != "" {
		cfg.ProjectID = projectID
	}
	if stage != "" {
		cfg.Stage = stage
	}
	return cfg, logging.InitLogging(cfg.LogLevel)
}

func setup(ctx context.Context) (*app, error) {
	cfg, log := loadConfig()
	caps, err := cfg.CapabilitySet()
	if err != nil {
		return nil, err
	}

	backend, err := database.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db, err := backend.Gorm(logging.GormLogLevel(cfg.LogLevel))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := store.AutoMigrate(db); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("creating bookkeeping tables: %w", err)
	}
	if err := lock.AutoMigrate(db); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("creating lock table: %w", err)
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		backend:    backend,
		migrations: store.NewMigrationStore(db),
		projects:   store.NewProjectStore(db),
		lease: lock.New(db, cfg.LockName,
			lock.WithLease(cfg.LockLease),
			lock.WithInstance(cfg.Instance),
			lock.WithLogger(log),
		),
	}
	a.executor = runner.NewExecutor(backend, a.migrations, a.projects, a.lease,
		runner.WithLockTimeout(cfg.LockTimeout),
		runner.WithLogger(log),
	)
	a.deployer = deploy.NewDeployer(a.executor, a.migrations, a.projects, deploy.StaticCapabilities(caps), log)
	return a, nil
}

func (a *app) key() string {
	return deploy.ProjectKey(a.cfg.ProjectID, a.cfg.Stage)
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.log.Warn("closing database", "error", err)
	}
}
