// Package mapping projects a logical schema onto the physical structure the
// connectors create: table and column names, physical types, foreign keys
// and join tables.
package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// Join table columns.
const (
	JoinColumnA = "A"
	JoinColumnB = "B"
)

func TableName(m schema.Model) string {
	return m.Name
}

func ColumnName(f schema.Field) string {
	return f.Name
}

// JoinTableName is the join table of a table-linked relation.
func JoinTableName(r schema.Relation) string {
	return r.JoinTableName()
}

// InlineColumnName is the foreign key column of an inline relation.
func InlineColumnName(r schema.Relation) string {
	return r.InlineColumnName()
}

// PhysicalType maps a logical field type to the stored type identifier.
// Enums and JSON documents are stored as strings.
func PhysicalType(t schema.TypeIdentifier) schema.TypeIdentifier {
	switch t {
	case schema.TypeEnum, schema.TypeJSON:
		return schema.TypeString
	}
	return t
}

// IDPhysicalType maps an id type to the stored type identifier.
func IDPhysicalType(t schema.IDType) schema.TypeIdentifier {
	switch t {
	case schema.IDInt:
		return schema.TypeInt
	case schema.IDUUID:
		return schema.TypeUUID
	}
	return schema.TypeString
}

// Link is the physical shape of a relation.
type Link struct {
	Relation string
	Inline   bool
	// Table is the join table, or for inline links the host table.
	Table string
	// Column is the foreign key column of an inline link.
	Column string
	// TargetTable is the table referenced by an inline link.
	TargetTable string
	Host        schema.RelationSide
	Target      schema.RelationSide
	// ColumnA and ColumnB hold the ids of side A and B rows of a join table.
	ColumnA string
	ColumnB string
	A       schema.RelationSide
	B       schema.RelationSide
}

// RelationLink resolves the physical link of a relation within s.
func RelationLink(s schema.Schema, r schema.Relation) Link {
	l := Link{Relation: r.Name, A: r.A, B: r.B}
	if r.Link.Strategy == schema.LinkInline && r.Link.Host != nil {
		host := *r.Link.Host
		target := r.Other(host)
		l.Inline = true
		l.Host = host
		l.Target = target
		l.Table = modelTable(s, host.Model)
		l.TargetTable = modelTable(s, target.Model)
		l.Column = InlineColumnName(r)
		return l
	}
	l.Table = JoinTableName(r)
	l.ColumnA = JoinColumnA
	l.ColumnB = JoinColumnB
	return l
}

// SideColumn returns the column which stores, per row, the id of the
// model on the given side. It reports false for the host side of an inline
// link, whose ids are the row ids of the host table itself.
func (l Link) SideColumn(side schema.RelationSide) (string, bool) {
	if l.Inline {
		if side == l.Host && l.Host != l.Target {
			return "", false
		}
		return l.Column, true
	}
	if side == l.A {
		return l.ColumnA, true
	}
	return l.ColumnB, true
}

func modelTable(s schema.Schema, name string) string {
	if m, ok := s.Model(name); ok {
		return TableName(m)
	}
	return name
}

// Tables returns the expected physical structure of s: one table per model
// followed by one per join-table relation, in declaration order.
func Tables(s schema.Schema) []introspect.Table {
	var tables []introspect.Table
	for _, m := range s.Models {
		tables = append(tables, ModelTable(s, m))
	}
	for _, r := range s.Relations {
		if r.Link.Strategy == schema.LinkTable {
			tables = append(tables, JoinTable(s, r))
		}
	}
	return tables
}

// ModelTable returns the expected table of one model.
func ModelTable(s schema.Schema, m schema.Model) introspect.Table {
	t := introspect.Table{Name: TableName(m)}
	t.Columns = append(t.Columns, IDColumn(m))
	for _, f := range m.Fields {
		if !f.IsRelation() {
			t.Columns = append(t.Columns, ScalarColumn(f))
			continue
		}
		r, ok := s.Relation(f.Relation)
		if !ok || r.Link.Strategy != schema.LinkInline || r.Link.Host == nil {
			continue
		}
		if r.Link.Host.Model != m.Name || r.Link.Host.Field != f.Name {
			continue
		}
		t.Columns = append(t.Columns, InlineColumn(s, r))
	}
	return t
}

func IDColumn(m schema.Model) introspect.Column {
	return introspect.Column{
		Name:       schema.IDColumn,
		Type:       IDPhysicalType(m.EffectiveIDType()),
		PrimaryKey: true,
	}
}

func ScalarColumn(f schema.Field) introspect.Column {
	return introspect.Column{
		Name:     ColumnName(f),
		Type:     PhysicalType(f.Type),
		Nullable: !f.Required,
		Unique:   f.Unique,
	}
}

// InlineColumn returns the foreign key column hosted for an inline relation.
// The column is always nullable; a required relation is enforced logically.
func InlineColumn(s schema.Schema, r schema.Relation) introspect.Column {
	target, _ := s.Model(r.Other(*r.Link.Host).Model)
	return introspect.Column{
		Name:       InlineColumnName(r),
		Type:       IDPhysicalType(target.EffectiveIDType()),
		Nullable:   true,
		ForeignKey: &introspect.ForeignKey{Table: TableName(target), Column: schema.IDColumn},
	}
}

// JoinTable returns the expected join table of a table-linked relation.
func JoinTable(s schema.Schema, r schema.Relation) introspect.Table {
	a, _ := s.Model(r.A.Model)
	b, _ := s.Model(r.B.Model)
	return introspect.Table{
		Name: JoinTableName(r),
		Columns: []introspect.Column{
			{Name: schema.IDColumn, Type: schema.TypeString, PrimaryKey: true},
			{
				Name:       JoinColumnA,
				Type:       IDPhysicalType(a.EffectiveIDType()),
				ForeignKey: &introspect.ForeignKey{Table: TableName(a), Column: schema.IDColumn},
			},
			{
				Name:       JoinColumnB,
				Type:       IDPhysicalType(b.EffectiveIDType()),
				ForeignKey: &introspect.ForeignKey{Table: TableName(b), Column: schema.IDColumn},
			},
		},
	}
}

// Quote quotes an identifier for PostgreSQL and SQLite.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Qualify quotes a table name, prefixed by its schema when one is given.
func Qualify(schemaName, table string) string {
	if schemaName == "" {
		return Quote(table)
	}
	return Quote(schemaName) + "." + Quote(table)
}

// UniqueIndexName is the name of the single-column unique index of a field.
func UniqueIndexName(table, column string) string {
	return fitIdentifier(table + "." + column + "._UNIQUE")
}

// PairIndexName is the name of the unique (A, B) index of a join table.
func PairIndexName(table string) string {
	return fitIdentifier(table + ".AB._UNIQUE")
}

// fitIdentifier shortens names over schema.MaxIdentifierLength to a prefix
// and a hash of the full name, so PostgreSQL never truncates them.
func fitIdentifier(name string) string {
	if len(name) <= schema.MaxIdentifierLength {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:4])
	return name[:schema.MaxIdentifierLength-len(suffix)] + suffix
}
