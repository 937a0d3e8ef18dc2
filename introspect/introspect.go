package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ridoystarlord/schemadeploy/schema"
)

// Table is the introspected mirror of a model or join table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Column struct {
	Name string `json:"name"`
	// Type is the normalised type identifier; TypeUnknown when the physical
	// type has no logical counterpart.
	Type       schema.TypeIdentifier `json:"type"`
	RawType    string                `json:"rawType,omitempty"`
	Nullable   bool                  `json:"nullable"`
	PrimaryKey bool                  `json:"primaryKey,omitempty"`
	Unique     bool                  `json:"unique,omitempty"`
	ForeignKey *ForeignKey           `json:"foreignKey,omitempty"`
}

type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// TypeUnknown marks a physical type the engine does not manage.
const TypeUnknown schema.TypeIdentifier = "Unknown"

// Introspector reads the live physical structure of a project's database.
// Implementations must not cache between calls.
type Introspector interface {
	Introspect(ctx context.Context, projectID string) ([]Table, error)
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in physical order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Find returns the table with the given name.
func Find(tables []Table, name string) (Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Mismatch is one structural difference between an expected and an actual table.
type Mismatch struct {
	Table   string `json:"table"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (m Mismatch) String() string {
	if m.Column != "" {
		return fmt.Sprintf("%s.%s: %s", m.Table, m.Column, m.Message)
	}
	return fmt.Sprintf("%s: %s", m.Table, m.Message)
}

// Compare reports every difference between the expected and the actual
// structure of one table. Column order is not significant.
func Compare(expected, actual Table) []Mismatch {
	var out []Mismatch
	actualCols := map[string]Column{}
	for _, c := range actual.Columns {
		actualCols[c.Name] = c
	}
	expectedCols := map[string]bool{}

	for _, want := range expected.Columns {
		expectedCols[want.Name] = true
		got, ok := actualCols[want.Name]
		if !ok {
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name, Message: "column missing"})
			continue
		}
		if got.Type != want.Type {
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("type is %s (%s), expected %s", got.Type, got.RawType, want.Type)})
		}
		if got.Nullable != want.Nullable {
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("nullable is %t, expected %t", got.Nullable, want.Nullable)})
		}
		if got.PrimaryKey != want.PrimaryKey {
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("primary key is %t, expected %t", got.PrimaryKey, want.PrimaryKey)})
		}
		if got.Unique != want.Unique {
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("unique is %t, expected %t", got.Unique, want.Unique)})
		}
		switch {
		case want.ForeignKey == nil && got.ForeignKey != nil:
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("unexpected foreign key to %s.%s", got.ForeignKey.Table, got.ForeignKey.Column)})
		case want.ForeignKey != nil && got.ForeignKey == nil:
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("foreign key to %s.%s missing", want.ForeignKey.Table, want.ForeignKey.Column)})
		case want.ForeignKey != nil && *want.ForeignKey != *got.ForeignKey:
			out = append(out, Mismatch{Table: expected.Name, Column: want.Name,
				Message: fmt.Sprintf("foreign key targets %s.%s, expected %s.%s",
					got.ForeignKey.Table, got.ForeignKey.Column, want.ForeignKey.Table, want.ForeignKey.Column)})
		}
	}

	var extra []string
	for name := range actualCols {
		if !expectedCols[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, Mismatch{Table: expected.Name, Column: name, Message: "unexpected column"})
	}
	return out
}

// normalizeType maps a physical type name to a type identifier.
func normalizeType(raw string) schema.TypeIdentifier {
	t := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(t, "("); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "text", "character varying", "varchar", "character", "char":
		return schema.TypeString
	case "integer", "int", "int4", "int8", "bigint", "smallint", "serial":
		return schema.TypeInt
	case "double precision", "real", "float", "double", "numeric", "decimal", "float8":
		return schema.TypeFloat
	case "boolean", "bool":
		return schema.TypeBoolean
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz", "datetime":
		return schema.TypeDateTime
	case "uuid":
		return schema.TypeUUID
	}
	return TypeUnknown
}
