// Package database provides the storage backends migrations are applied to.
// PostgreSQL keeps one schema per project; SQLite holds a single project.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/generator"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/validator"
)

// StepError is the failure of one statement of a plan.
type StepError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: executing %q: %v", e.Index+1, e.Statement, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Backend is a storage backend opened from a URL.
type Backend interface {
	introspect.Introspector
	Dialect() generator.Dialect
	// Transactional reports whether a failed plan leaves no trace.
	Transactional() bool
	Probes(projectID string) validator.Probes
	Plan(projectID string, prev, next schema.Schema, steps []diff.Step) (generator.Plan, error)
	// Apply runs a plan atomically; a failing statement is a *StepError.
	Apply(ctx context.Context, projectID string, plan generator.Plan) error
	// Gorm returns a gorm handle over the same database for bookkeeping tables.
	Gorm(level logger.LogLevel) (*gorm.DB, error)
	Close() error
}

// Open returns the backend for url: postgres:// and postgresql:// URLs open
// PostgreSQL, anything else is taken as a SQLite DSN, optionally prefixed
// with sqlite://.
func Open(ctx context.Context, url string, log *slog.Logger) (Backend, error) {
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL not set in environment")
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return OpenPostgres(ctx, url, log)
	}
	return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"), log)
}
