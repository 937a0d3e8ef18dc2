package introspect

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteIntrospector reads the tables of a single-tenant SQLite database.
// The project id is not used to scope the read.
type SQLiteIntrospector struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteIntrospector {
	return &SQLiteIntrospector{db: db}
}

var _ Introspector = (*SQLiteIntrospector)(nil)

// Every result set is drained before the next query so the introspector
// works on a pool limited to one connection.
func (s *SQLiteIntrospector) Introspect(ctx context.Context, _ string) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		if IsInternalTable(name) {
			continue
		}
		tableNames = append(tableNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table rows: %w", err)
	}

	tables := make([]Table, 0, len(tableNames))
	for _, name := range tableNames {
		t, err := s.table(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (s *SQLiteIntrospector) table(ctx context.Context, name string) (Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, name)
	if err != nil {
		return Table{}, fmt.Errorf("querying columns: %w", err)
	}
	var columns []Column
	for rows.Next() {
		var col Column
		var notNull, pk int
		if err := rows.Scan(&col.Name, &col.RawType, &notNull, &pk); err != nil {
			rows.Close()
			return Table{}, fmt.Errorf("scanning column: %w", err)
		}
		col.Type = normalizeType(col.RawType)
		col.Nullable = notNull == 0 && pk == 0
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterating column rows: %w", err)
	}

	foreignKeys, err := s.foreignKeys(ctx, name)
	if err != nil {
		return Table{}, err
	}
	unique, err := s.uniqueColumns(ctx, name)
	if err != nil {
		return Table{}, err
	}

	for i := range columns {
		c := &columns[i]
		c.Unique = unique[c.Name]
		if fk, ok := foreignKeys[c.Name]; ok {
			c.ForeignKey = &fk
		}
	}
	return Table{Name: name, Columns: columns}, nil
}

func (s *SQLiteIntrospector) foreignKeys(ctx context.Context, name string) (map[string]ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	foreignKeys := map[string]ForeignKey{}
	for rows.Next() {
		var column string
		var to sql.NullString
		var fk ForeignKey
		if err := rows.Scan(&column, &fk.Table, &to); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		fk.Column = to.String
		foreignKeys[column] = fk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating foreign key rows: %w", err)
	}
	return foreignKeys, nil
}

// uniqueColumns returns the columns covered by a single-column unique index
// that is not the primary key.
func (s *SQLiteIntrospector) uniqueColumns(ctx context.Context, name string) (map[string]bool, error) {
	query := `
	SELECT ii.name
	FROM pragma_index_list(?) il
	JOIN pragma_index_info(il.name) ii
	WHERE il."unique" = 1
		AND il.origin != 'pk'
		AND (SELECT count(*) FROM pragma_index_info(il.name)) = 1`
	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	unique := map[string]bool{}
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, fmt.Errorf("scanning index column: %w", err)
		}
		unique[column] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index rows: %w", err)
	}
	return unique, nil
}
