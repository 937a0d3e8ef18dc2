// Package deploy turns deploy requests into executed migrations: it plans the
// steps against the persisted schema of the project, runs them through the
// executor and reports the outcome as a typed result.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/runner"
	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/store"
)

// Secret and Function are validated by the caller and passed through as is.
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Function struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
}

type Request struct {
	ProjectID string
	Stage     string
	Schema    schema.Schema
	DryRun    bool
	Force     bool
	Secrets   []Secret
	Functions []Function
}

// Key is the storage key of the request's project: the project id, suffixed
// with the stage when one is given.
func (r Request) Key() string {
	return ProjectKey(r.ProjectID, r.Stage)
}

func ProjectKey(id, stage string) string {
	if stage == "" {
		return id
	}
	return id + "$" + stage
}

type Result struct {
	MigrationID string             `json:"migrationId,omitempty"`
	Revision    int                `json:"revision"`
	DryRun      bool               `json:"dryRun,omitempty"`
	NoChanges   bool               `json:"noChanges,omitempty"`
	Steps       []diff.Step        `json:"steps"`
	Tables      []introspect.Table `json:"tables,omitempty"`
	SQL         string             `json:"sql,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	Errors      []Failure          `json:"errors,omitempty"`
	Secrets     []Secret           `json:"-"`
	Functions   []Function         `json:"functions,omitempty"`
}

// Failed reports whether the deploy was rejected or failed.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// CapabilitySource reports the capabilities of the backend a project runs on.
type CapabilitySource interface {
	Capabilities(ctx context.Context) (schema.CapabilitySet, error)
}

type StaticCapabilities schema.CapabilitySet

func (s StaticCapabilities) Capabilities(context.Context) (schema.CapabilitySet, error) {
	return schema.CapabilitySet(s), nil
}

type Deployer struct {
	executor   *runner.Executor
	migrations *store.MigrationStore
	projects   *store.ProjectStore
	caps       CapabilitySource
	logger     *slog.Logger
}

func NewDeployer(executor *runner.Executor, migrations *store.MigrationStore, projects *store.ProjectStore, caps CapabilitySource, log *slog.Logger) *Deployer {
	if log == nil {
		log = slog.Default()
	}
	if caps == nil {
		caps = StaticCapabilities{}
	}
	return &Deployer{executor: executor, migrations: migrations, projects: projects, caps: caps, logger: log}
}

// Deploy plans and executes req. The returned result always carries the
// typed failures of a returned error.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	result, err := d.deploy(ctx, req)
	if errors.Is(err, runner.ErrStaleBaseline) {
		// another deploy finished between planning and locking
		d.logger.Info("re-planning deploy against the new baseline", "project", req.Key())
		result, err = d.deploy(ctx, req)
	}
	if err != nil {
		result.Errors = Failures(err)
	}
	return result, err
}

func (d *Deployer) deploy(ctx context.Context, req Request) (*Result, error) {
	result := &Result{DryRun: req.DryRun, Secrets: req.Secrets, Functions: req.Functions}
	key := req.Key()

	caps, err := d.caps.Capabilities(ctx)
	if err != nil {
		return result, fmt.Errorf("read capabilities: %w", err)
	}
	project, err := d.projects.Load(ctx, key)
	if err != nil {
		return result, err
	}
	var current schema.Schema
	if project != nil {
		current = project.Schema
		result.Revision = project.Revision
	}

	steps, err := diff.Infer(current, req.Schema, caps)
	if err != nil {
		return result, err
	}
	result.Steps = steps
	if len(steps) == 0 {
		result.NoChanges = true
		return result, nil
	}

	m := runner.Migration{
		ID:           uuid.NewString(),
		ProjectID:    key,
		BaseRevision: result.Revision,
		Previous:     current,
		Desired:      req.Schema,
		Steps:        steps,
	}
	report, err := d.executor.Execute(ctx, m, req.DryRun, req.Force)
	if report != nil {
		result.MigrationID = report.MigrationID
		result.Tables = report.Tables
		result.Warnings = report.Warnings
		if report.Revision > 0 {
			result.Revision = report.Revision
		}
		if req.DryRun {
			result.SQL = report.SQL()
		}
	}
	return result, err
}

// Rollback deploys, as a new migration, the schema the project had before
// its last steps applied migrations. History is never rewritten.
func (d *Deployer) Rollback(ctx context.Context, projectID, stage string, steps int, force bool) (*Result, error) {
	key := ProjectKey(projectID, stage)
	applied, err := d.migrations.Applied(ctx, key)
	if err != nil {
		return &Result{Errors: Failures(err)}, err
	}
	if steps < 1 || steps > len(applied) {
		err := fmt.Errorf("cannot roll back %d migrations, %d applied", steps, len(applied))
		return &Result{Errors: Failures(err)}, err
	}
	from := len(applied) - steps
	target, err := reverseRenames(applied[from].Previous, applied[from:])
	if err != nil {
		return &Result{Errors: Failures(err)}, err
	}
	d.logger.Info("rolling back", "project", key, "migrations", steps, "toRevision", applied[from].BaseRevision)
	return d.Deploy(ctx, Request{ProjectID: projectID, Stage: stage, Schema: target, Force: force})
}
