// Package runner applies planned migrations to a backend under the deploy
// lock, verifies the result by introspection and records the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ridoystarlord/schemadeploy/database"
	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/generator"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/lock"
	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/store"
	"github.com/ridoystarlord/schemadeploy/validator"
)

// Connector is the part of a storage backend the executor needs.
type Connector interface {
	introspect.Introspector
	Dialect() generator.Dialect
	Transactional() bool
	Probes(projectID string) validator.Probes
	Plan(projectID string, prev, next schema.Schema, steps []diff.Step) (generator.Plan, error)
	Apply(ctx context.Context, projectID string, plan generator.Plan) error
}

var _ Connector = (database.Backend)(nil)

// Migration is a planned transformation of one project's schema.
type Migration struct {
	ID        string
	ProjectID string
	// BaseRevision is the project revision Previous was read at.
	BaseRevision int
	Previous     schema.Schema
	Desired      schema.Schema
	Steps        []diff.Step
}

type ExecutionReport struct {
	MigrationID string
	Revision    int
	Status      store.Status
	DryRun      bool
	Steps       []diff.Step
	Plan        generator.Plan
	// Tables are the introspected tables the migration touched.
	Tables    []introspect.Table
	Conflicts validator.Conflicts
	Warnings  []string
	Duration  time.Duration
}

// SQL returns the generated script.
func (r *ExecutionReport) SQL() string {
	return r.Plan.SQL()
}

type Executor struct {
	connector   Connector
	migrations  *store.MigrationStore
	projects    *store.ProjectStore
	lease       *lock.Lease
	lockTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Executor)

func WithLockTimeout(d time.Duration) Option {
	return func(e *Executor) { e.lockTimeout = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.logger = log
		}
	}
}

const DefaultLockTimeout = time.Minute

func NewExecutor(connector Connector, migrations *store.MigrationStore, projects *store.ProjectStore, lease *lock.Lease, opts ...Option) *Executor {
	e := &Executor{
		connector:   connector,
		migrations:  migrations,
		projects:    projects,
		lease:       lease,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies m. A dry run only plans. Conflicts found in live data fail
// the execution unless force is set, in which case they become warnings.
func (e *Executor) Execute(ctx context.Context, m Migration, dryRun, force bool) (*ExecutionReport, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	started := time.Now()
	log := e.logger.With("migration", m.ID, "project", m.ProjectID)

	plan, err := e.connector.Plan(m.ProjectID, m.Previous, m.Desired, m.Steps)
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	report := &ExecutionReport{MigrationID: m.ID, DryRun: dryRun, Steps: m.Steps, Plan: plan}
	if dryRun {
		report.Status = store.StatusPending
		return report, nil
	}

	handle, err := e.lease.Acquire(ctx, e.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.lease.Release(context.WithoutCancel(ctx), handle); err != nil {
			log.Warn("failed to release deploy lock", "error", err)
		}
	}()

	if err := e.checkBaseline(ctx, m); err != nil {
		return nil, err
	}
	if err := e.failAbandoned(ctx, m.ProjectID, log); err != nil {
		return nil, err
	}

	conflicts, err := validator.Screen(ctx, e.connector.Probes(m.ProjectID), m.Steps, m.Previous, m.Desired)
	if err != nil {
		return nil, fmt.Errorf("screen steps: %w", err)
	}
	report.Conflicts = conflicts
	if len(conflicts) > 0 {
		if !force {
			return report, conflicts
		}
		for _, c := range conflicts {
			report.Warnings = append(report.Warnings, c.String())
		}
		log.Warn("applying despite data conflicts", "conflicts", len(conflicts))
	}

	revision, err := e.migrations.NextRevision(ctx, m.ProjectID)
	if err != nil {
		return nil, err
	}
	report.Revision = revision
	record := &store.Migration{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Revision:     revision,
		BaseRevision: m.BaseRevision,
		Steps:        m.Steps,
		Previous:     m.Previous,
		Desired:      m.Desired,
		Warnings:     report.Warnings,
		Checksum:     store.Checksum(m.Steps),
		Force:        force,
	}
	if err := e.migrations.Create(ctx, record); err != nil {
		return nil, err
	}

	// Once started, application runs to completion regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	if err := e.migrations.Transition(ctx, m.ID, store.StatusInProgress, nil); err != nil {
		return nil, err
	}

	log.Info("applying migration", "revision", revision, "steps", len(m.Steps))
	if err := e.connector.Apply(ctx, m.ProjectID, plan); err != nil {
		report.Status = store.StatusFailed
		if e.connector.Transactional() {
			report.Status = store.StatusRolledBack
		}
		execErr := executionError(err, m.Steps)
		if terr := e.migrations.Transition(ctx, m.ID, report.Status, []string{execErr.Error()}); terr != nil {
			log.Error("failed to record migration failure", "error", terr)
		}
		log.Error("migration failed", "status", report.Status, "error", execErr)
		return report, execErr
	}

	expected, gone, err := affected(m.Previous, m.Desired, m.Steps)
	if err != nil {
		return report, e.fail(ctx, report, m.ID, fmt.Errorf("resolve affected tables: %w", err))
	}
	actual, err := e.connector.Introspect(ctx, m.ProjectID)
	if err != nil {
		return report, e.fail(ctx, report, m.ID, fmt.Errorf("introspect: %w", err))
	}
	tables, mismatches := verify(expected, gone, actual)
	report.Tables = tables
	if len(mismatches) > 0 {
		return report, e.fail(ctx, report, m.ID, &ConsistencyError{Mismatches: mismatches})
	}

	if err := e.migrations.Transition(ctx, m.ID, store.StatusApplied, nil); err != nil {
		return report, err
	}
	project := &store.Project{ID: m.ProjectID, Schema: m.Desired, Revision: revision}
	if err := e.projects.Save(ctx, project); err != nil {
		return report, err
	}
	report.Status = store.StatusApplied
	report.Duration = time.Since(started)
	log.Info("migration applied", "revision", revision, "duration", report.Duration)
	return report, nil
}

func (e *Executor) checkBaseline(ctx context.Context, m Migration) error {
	existing, err := e.migrations.Get(ctx, m.ID)
	switch {
	case err == nil && existing.Status == store.StatusApplied:
		return fmt.Errorf("migration %s: %w", m.ID, ErrAlreadyApplied)
	case err == nil:
		return fmt.Errorf("migration %s is %s: %w", m.ID, existing.Status, ErrAlreadyRecorded)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	project, err := e.projects.Load(ctx, m.ProjectID)
	if err != nil {
		return err
	}
	current := 0
	if project != nil {
		current = project.Revision
	}
	if current != m.BaseRevision {
		return fmt.Errorf("project %s is at revision %d, migration expects %d: %w",
			m.ProjectID, current, m.BaseRevision, ErrStaleBaseline)
	}
	return nil
}

// failAbandoned closes records left unfinished by a deploy that crashed while
// holding the lock.
func (e *Executor) failAbandoned(ctx context.Context, projectID string, log *slog.Logger) error {
	open, err := e.migrations.InProgress(ctx, projectID)
	if err != nil {
		return err
	}
	for _, rec := range open {
		log.Warn("failing abandoned migration", "abandoned", rec.ID, "status", rec.Status)
		if err := e.migrations.Transition(ctx, rec.ID, store.StatusFailed, []string{"abandoned by an interrupted deploy"}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, report *ExecutionReport, id string, cause error) error {
	report.Status = store.StatusFailed
	if err := e.migrations.Transition(ctx, id, store.StatusFailed, []string{cause.Error()}); err != nil {
		e.logger.Error("failed to record migration failure", "migration", id, "error", err)
	}
	return cause
}

func executionError(err error, steps []diff.Step) *ExecutionError {
	var stepErr *database.StepError
	if errors.As(err, &stepErr) && stepErr.Index >= 0 && stepErr.Index < len(steps) {
		return &ExecutionError{
			StepIndex: stepErr.Index,
			Step:      steps[stepErr.Index],
			Statement: stepErr.Statement,
			Err:       stepErr.Err,
		}
	}
	return &ExecutionError{StepIndex: -1, Err: err}
}

// History returns the migrations recorded for a project in application order.
func (e *Executor) History(ctx context.Context, projectID string) ([]store.Migration, error) {
	return e.migrations.List(ctx, projectID)
}
