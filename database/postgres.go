package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/generator"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/validator"
)

// Postgres applies migrations to PostgreSQL, one schema per project id.
// DDL is transactional, so a failed plan is rolled back as a whole.
type Postgres struct {
	pool         *pgxpool.Pool
	introspector *introspect.PostgresIntrospector
	logger       *slog.Logger
}

var (
	_ Backend                 = (*Postgres)(nil)
	_ validator.ExistsQuerier = (*Postgres)(nil)
)

func OpenPostgres(ctx context.Context, url string, log *slog.Logger) (*Postgres, error) {
	if log == nil {
		log = slog.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	log.Debug("connected to postgres", "host", pool.Config().ConnConfig.Host)
	return NewPostgres(pool, log), nil
}

func NewPostgres(pool *pgxpool.Pool, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{pool: pool, introspector: introspect.NewPostgres(pool), logger: log}
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Dialect() generator.Dialect {
	return generator.DialectPostgres
}

func (p *Postgres) Transactional() bool {
	return true
}

func (p *Postgres) Introspect(ctx context.Context, projectID string) ([]introspect.Table, error) {
	return p.introspector.Introspect(ctx, projectID)
}

func (p *Postgres) Probes(projectID string) validator.Probes {
	return validator.NewSQLProbes(p, squirrel.Dollar, projectID)
}

func (p *Postgres) QueryExists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (p *Postgres) Plan(projectID string, prev, next schema.Schema, steps []diff.Step) (generator.Plan, error) {
	return generator.Postgres(projectID, prev, next, steps)
}

// Apply creates the project schema if needed and runs the plan in one
// transaction.
func (p *Postgres) Apply(ctx context.Context, projectID string, plan generator.Plan) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+mapping.Quote(projectID)); err != nil {
		return fmt.Errorf("create schema %s: %w", projectID, err)
	}
	if err := execSteps(ctx, tx, plan, p.logger); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func execSteps(ctx context.Context, tx pgx.Tx, plan generator.Plan, log *slog.Logger) error {
	for _, step := range plan.Steps {
		for _, stmt := range step.Statements {
			log.Debug("executing statement", "step", step.Index+1, "sql", stmt)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &StepError{Index: step.Index, Statement: stmt, Err: err}
			}
		}
	}
	return nil
}

// Gorm opens gorm over the pool for the bookkeeping tables in the public schema.
func (p *Postgres) Gorm(level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(p.pool)}), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, nil
}
