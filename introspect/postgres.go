package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// PostgresIntrospector reads one PostgreSQL schema per project. Tables are
// read concurrently.
type PostgresIntrospector struct {
	pool        *pgxpool.Pool
	concurrency int
}

func NewPostgres(pool *pgxpool.Pool) *PostgresIntrospector {
	return &PostgresIntrospector{pool: pool, concurrency: 4}
}

var _ Introspector = (*PostgresIntrospector)(nil)

func (p *PostgresIntrospector) Introspect(ctx context.Context, projectID string) ([]Table, error) {
	tablesQuery := `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name;
	`

	rows, err := p.pool.Query(ctx, tablesQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		if IsInternalTable(tableName) {
			continue
		}
		tableNames = append(tableNames, tableName)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table rows: %w", err)
	}

	tables := make([]Table, len(tableNames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, name := range tableNames {
		i, name := i, name
		g.Go(func() error {
			t, err := p.table(gctx, projectID, name)
			if err != nil {
				return fmt.Errorf("introspecting table %s: %w", name, err)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (p *PostgresIntrospector) table(ctx context.Context, schemaName, tableName string) (Table, error) {
	columns, err := p.columns(ctx, schemaName, tableName)
	if err != nil {
		return Table{}, err
	}
	primary, err := p.primaryKeys(ctx, schemaName, tableName)
	if err != nil {
		return Table{}, err
	}
	unique, err := p.uniqueColumns(ctx, schemaName, tableName)
	if err != nil {
		return Table{}, err
	}
	foreignKeys, err := p.foreignKeys(ctx, schemaName, tableName)
	if err != nil {
		return Table{}, err
	}

	for i := range columns {
		c := &columns[i]
		c.PrimaryKey = primary[c.Name]
		c.Unique = unique[c.Name]
		if fk, ok := foreignKeys[c.Name]; ok {
			c.ForeignKey = &fk
		}
	}
	return Table{Name: tableName, Columns: columns}, nil
}

func (p *PostgresIntrospector) columns(ctx context.Context, schemaName, tableName string) ([]Column, error) {
	columnsQuery := `
	SELECT column_name, data_type, (is_nullable = 'YES') AS is_nullable
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position;
	`

	rows, err := p.pool.Query(ctx, columnsQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.RawType, &col.Nullable); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Type = normalizeType(col.RawType)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows: %w", err)
	}
	return columns, nil
}

func (p *PostgresIntrospector) primaryKeys(ctx context.Context, schemaName, tableName string) (map[string]bool, error) {
	primaryQuery := `
	SELECT kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
		AND tc.table_name = kcu.table_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2;
	`
	return p.columnSet(ctx, primaryQuery, schemaName, tableName)
}

// uniqueColumns returns the columns covered by a single-column unique index.
// Composite indexes such as the pair index of a join table are ignored.
func (p *PostgresIntrospector) uniqueColumns(ctx context.Context, schemaName, tableName string) (map[string]bool, error) {
	uniqueQuery := `
	SELECT a.attname
	FROM pg_index i
	JOIN pg_class t ON t.oid = i.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = i.indkey[0]
	WHERE n.nspname = $1
		AND t.relname = $2
		AND i.indisunique
		AND NOT i.indisprimary
		AND i.indnatts = 1;
	`
	return p.columnSet(ctx, uniqueQuery, schemaName, tableName)
}

func (p *PostgresIntrospector) columnSet(ctx context.Context, query, schemaName, tableName string) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("querying constraints: %w", err)
	}
	defer rows.Close()

	set := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning constraint column: %w", err)
		}
		set[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating constraint rows: %w", err)
	}
	return set, nil
}

func (p *PostgresIntrospector) foreignKeys(ctx context.Context, schemaName, tableName string) (map[string]ForeignKey, error) {
	foreignKeysQuery := `
	SELECT
		kcu.column_name,
		ccu.table_name AS foreign_table_name,
		ccu.column_name AS foreign_column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2;
	`

	rows, err := p.pool.Query(ctx, foreignKeysQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	foreignKeys := map[string]ForeignKey{}
	for rows.Next() {
		var column string
		var fk ForeignKey
		if err := rows.Scan(&column, &fk.Table, &fk.Column); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		foreignKeys[column] = fk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating foreign key rows: %w", err)
	}
	return foreignKeys, nil
}

// Tables owned by the deploy bookkeeping, never part of a project.
const (
	ProjectsTable   = "deploy_projects"
	MigrationsTable = "deploy_migrations"
	LocksTable      = "deploy_locks"
)

// IsInternalTable reports whether a table belongs to the engine itself or
// to the storage engine's catalog.
func IsInternalTable(name string) bool {
	switch name {
	case ProjectsTable, MigrationsTable, LocksTable:
		return true
	}
	return strings.HasPrefix(name, "sqlite_")
}
