package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/generator"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/validator"
)

// SQLite applies migrations to a single-tenant SQLite database. The pool
// holds one connection, shared with the bookkeeping tables.
type SQLite struct {
	db           *sql.DB
	introspector *introspect.SQLiteIntrospector
	logger       *slog.Logger
}

var (
	_ Backend                 = (*SQLite)(nil)
	_ validator.ExistsQuerier = (*SQLite)(nil)
)

// OpenSQLite opens the database at dsn; ":memory:" opens a private
// in-memory database.
func OpenSQLite(ctx context.Context, dsn string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if dsn == ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	log.Debug("opened sqlite database", "dsn", dsn)
	return NewSQLite(db, log), nil
}

func NewSQLite(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	return &SQLite{db: db, introspector: introspect.NewSQLite(db), logger: log}
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Dialect() generator.Dialect {
	return generator.DialectSQLite
}

func (s *SQLite) Transactional() bool {
	return true
}

func (s *SQLite) Introspect(ctx context.Context, projectID string) ([]introspect.Table, error) {
	return s.introspector.Introspect(ctx, projectID)
}

func (s *SQLite) Probes(string) validator.Probes {
	return validator.NewSQLProbes(s, squirrel.Question, "")
}

func (s *SQLite) QueryExists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (s *SQLite) Plan(_ string, prev, next schema.Schema, steps []diff.Step) (generator.Plan, error) {
	return generator.SQLite(prev, next, steps)
}

// Apply runs the plan in one transaction with foreign key enforcement
// suspended, then checks every foreign key before committing.
func (s *SQLite) Apply(ctx context.Context, _ string, plan generator.Plan) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	// foreign_keys cannot change inside a transaction.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, ferr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys=ON"); ferr != nil && err == nil {
			err = fmt.Errorf("enable foreign keys: %w", ferr)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, step := range plan.Steps {
		for _, stmt := range step.Statements {
			s.logger.Debug("executing statement", "step", step.Index+1, "sql", stmt)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &StepError{Index: step.Index, Statement: stmt, Err: err}
			}
		}
	}

	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	violated := rows.Next()
	var table, parent string
	var rowid sql.NullInt64
	var fkid int
	var scanErr error
	if violated {
		scanErr = rows.Scan(&table, &rowid, &parent, &fkid)
	}
	rows.Close()
	if scanErr != nil {
		return fmt.Errorf("reading foreign key check: %w", scanErr)
	}
	if violated {
		return fmt.Errorf("foreign key check failed: %s row %d references missing %s row", table, rowid.Int64, parent)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Gorm opens gorm over the same connection pool.
func (s *SQLite) Gorm(level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", Conn: s.db}, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, nil
}
