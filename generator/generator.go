package generator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// StepSQL holds the statements implementing one step. Steps without a
// physical effect, such as enum changes, have no statements.
type StepSQL struct {
	Index      int       `json:"index"`
	Step       diff.Step `json:"step"`
	Statements []string  `json:"statements,omitempty"`
}

// Plan is the SQL of a migration, grouped by step.
type Plan struct {
	Dialect Dialect   `json:"dialect"`
	Steps   []StepSQL `json:"steps"`
}

func (p Plan) Statements() []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Statements...)
	}
	return out
}

// SQL renders the plan as a script.
func (p Plan) SQL() string {
	var b strings.Builder
	for _, s := range p.Steps {
		if len(s.Statements) == 0 {
			continue
		}
		fmt.Fprintf(&b, "-- %d. %s\n", s.Index+1, s.Step)
		for _, stmt := range s.Statements {
			b.WriteString(stmt)
			b.WriteString(";\n")
		}
	}
	return b.String()
}

// For builds the plan of a dialect. schemaName scopes PostgreSQL statements
// and is ignored by SQLite.
func For(d Dialect, schemaName string, prev, next schema.Schema, steps []diff.Step) (Plan, error) {
	switch d {
	case DialectPostgres:
		return Postgres(schemaName, prev, next, steps)
	case DialectSQLite:
		return SQLite(prev, next, steps)
	}
	return Plan{}, fmt.Errorf("unsupported dialect: %s", d)
}

type planner struct {
	dialect    Dialect
	schemaName string
	prev       schema.Schema
	next       schema.Schema
	match      *schema.Match
}

func newPlanner(d Dialect, schemaName string, prev, next schema.Schema) (*planner, error) {
	match, err := schema.MatchSchemas(prev, next)
	if err != nil {
		return nil, fmt.Errorf("matching schemas: %w", err)
	}
	return &planner{dialect: d, schemaName: schemaName, prev: prev, next: next, match: match}, nil
}

func (p *planner) table(name string) string {
	return mapping.Qualify(p.schemaName, name)
}

func (p *planner) typeName(t schema.TypeIdentifier) string {
	if p.dialect == DialectSQLite {
		switch mapping.PhysicalType(t) {
		case schema.TypeInt:
			return "INTEGER"
		case schema.TypeFloat:
			return "REAL"
		case schema.TypeBoolean:
			return "BOOLEAN"
		case schema.TypeDateTime:
			return "DATETIME"
		case schema.TypeUUID:
			return "UUID"
		}
		return "TEXT"
	}
	switch mapping.PhysicalType(t) {
	case schema.TypeInt:
		return "integer"
	case schema.TypeFloat:
		return "double precision"
	case schema.TypeBoolean:
		return "boolean"
	case schema.TypeDateTime:
		return "timestamp(3)"
	case schema.TypeUUID:
		return "uuid"
	}
	return "text"
}

func (p *planner) idDefinition(m schema.Model) string {
	var typ string
	switch m.EffectiveIDType() {
	case schema.IDInt:
		typ = "SERIAL"
		if p.dialect == DialectSQLite {
			typ = "INTEGER"
		}
	case schema.IDUUID:
		typ = p.typeName(schema.TypeUUID)
	default:
		typ = p.typeName(schema.TypeString)
	}
	return fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", mapping.Quote(schema.IDColumn), typ)
}

// columnDefinition renders a scalar column, keeping NOT NULL when required.
func (p *planner) columnDefinition(f schema.Field) string {
	def := mapping.Quote(mapping.ColumnName(f)) + " " + p.typeName(f.Type)
	if f.Required {
		def += " NOT NULL"
	}
	if f.Default != nil {
		def += " DEFAULT " + p.literal(f.Type, *f.Default)
	}
	return def
}

// foreignKeyDefinition renders the nullable foreign key column of an inline relation.
func (p *planner) foreignKeyDefinition(s schema.Schema, r schema.Relation) string {
	target, _ := s.Model(r.Other(*r.Link.Host).Model)
	return fmt.Sprintf("%s %s REFERENCES %s (%s) ON DELETE SET NULL",
		mapping.Quote(mapping.InlineColumnName(r)),
		p.typeName(mapping.IDPhysicalType(target.EffectiveIDType())),
		p.table(mapping.TableName(target)),
		mapping.Quote(schema.IDColumn))
}

func (p *planner) literal(t schema.TypeIdentifier, v string) string {
	switch t {
	case schema.TypeInt, schema.TypeFloat:
		return v
	case schema.TypeBoolean:
		truthy := v == "true" || v == "1" || v == "t" || v == "TRUE" || v == "True"
		if p.dialect == DialectSQLite {
			if truthy {
				return "1"
			}
			return "0"
		}
		if truthy {
			return "TRUE"
		}
		return "FALSE"
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// backfill is the value written into existing rows when a field becomes
// required: its default, otherwise a placeholder of its type.
func (p *planner) backfill(f schema.Field) string {
	if f.Default != nil {
		return p.literal(f.Type, *f.Default)
	}
	return p.literal(f.Type, Placeholder(p.next, f))
}

// Placeholder returns the zero value of a field type used for backfills.
func Placeholder(s schema.Schema, f schema.Field) string {
	switch f.Type {
	case schema.TypeInt, schema.TypeFloat:
		return "0"
	case schema.TypeBoolean:
		return "false"
	case schema.TypeDateTime:
		return "1970-01-01T00:00:00Z"
	case schema.TypeUUID:
		return "00000000-0000-0000-0000-000000000000"
	case schema.TypeJSON:
		return "{}"
	case schema.TypeEnum:
		if e, ok := s.Enum(f.Enum); ok && len(e.Values) > 0 {
			return e.Values[0]
		}
	}
	return ""
}

// isInlineHost reports whether field f of model m hosts the foreign key of r.
func isInlineHost(r schema.Relation, model, field string) bool {
	return r.Link.Strategy == schema.LinkInline && r.Link.Host != nil &&
		r.Link.Host.Model == model && r.Link.Host.Field == field
}

// hostedRelation returns the inline relation whose foreign key the field hosts.
func hostedRelation(s schema.Schema, model string, f schema.Field) (schema.Relation, bool) {
	if !f.IsRelation() {
		return schema.Relation{}, false
	}
	r, ok := s.Relation(f.Relation)
	if !ok || !isInlineHost(r, model, f.Name) {
		return schema.Relation{}, false
	}
	return r, true
}

func (p *planner) createJoinTable(r schema.Relation) []string {
	a, _ := p.next.Model(r.A.Model)
	b, _ := p.next.Model(r.B.Model)
	name := mapping.JoinTableName(r)
	side := func(col string, m schema.Model) string {
		return fmt.Sprintf("%s %s NOT NULL REFERENCES %s (%s) ON DELETE CASCADE",
			mapping.Quote(col),
			p.typeName(mapping.IDPhysicalType(m.EffectiveIDType())),
			p.table(mapping.TableName(m)),
			mapping.Quote(schema.IDColumn))
	}
	create := fmt.Sprintf("CREATE TABLE %s (\n  %s,\n  %s,\n  %s\n)",
		p.table(name),
		fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", mapping.Quote(schema.IDColumn), p.typeName(schema.TypeString)),
		side(mapping.JoinColumnA, a),
		side(mapping.JoinColumnB, b))
	index := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s, %s)",
		mapping.Quote(mapping.PairIndexName(name)), p.table(name),
		mapping.Quote(mapping.JoinColumnA), mapping.Quote(mapping.JoinColumnB))
	return []string{create, index}
}

func (p *planner) createUniqueIndex(table, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		mapping.Quote(mapping.UniqueIndexName(table, column)), p.table(table), mapping.Quote(column))
}

// index qualifies an index name for ALTER and DROP statements.
func (p *planner) index(name string) string {
	return mapping.Qualify(p.schemaName, name)
}
