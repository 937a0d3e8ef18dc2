package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MaxIdentifierLength matches the PostgreSQL identifier limit.
const MaxIdentifierLength = 63

// Validate checks the structural invariants of a schema and returns every
// violation found as Problems, or nil.
func Validate(s Schema) error {
	var problems Problems
	add := func(p Problem) { problems = append(problems, p) }

	enums := map[string]Enum{}
	for _, e := range s.Enums {
		if err := validateIdentifier(e.Name); err != nil {
			add(Problem{Enum: e.Name, Message: err.Error()})
		}
		if _, dup := enums[e.Name]; dup {
			add(Problem{Enum: e.Name, Message: "duplicate enum name"})
			continue
		}
		enums[e.Name] = e
		if len(e.Values) == 0 {
			add(Problem{Enum: e.Name, Message: "enum must declare at least one value"})
		}
		seen := map[string]bool{}
		for _, v := range e.Values {
			if err := validateIdentifier(v); err != nil {
				add(Problem{Enum: e.Name, Message: fmt.Sprintf("value %q: %v", v, err)})
			}
			if seen[v] {
				add(Problem{Enum: e.Name, Message: fmt.Sprintf("duplicate enum value %q", v)})
			}
			seen[v] = true
		}
	}

	relations := map[string]Relation{}
	for _, r := range s.Relations {
		if _, dup := relations[r.Name]; dup {
			add(Problem{Relation: r.Name, Message: "duplicate relation name"})
			continue
		}
		relations[r.Name] = r
	}

	models := map[string]bool{}
	for _, m := range s.Models {
		if err := validateIdentifier(m.Name); err != nil {
			add(Problem{Model: m.Name, Message: err.Error()})
		}
		if models[m.Name] {
			add(Problem{Model: m.Name, Message: "duplicate model name"})
			continue
		}
		models[m.Name] = true

		switch m.EffectiveIDType() {
		case IDString, IDInt, IDUUID:
		default:
			add(Problem{Model: m.Name, Message: fmt.Sprintf("unsupported id type %q", m.IDType)})
		}

		fields := map[string]bool{}
		for _, f := range m.Fields {
			if err := validateIdentifier(f.Name); err != nil {
				add(Problem{Model: m.Name, Field: f.Name, Message: err.Error()})
			}
			if f.Name == IDColumn {
				add(Problem{Model: m.Name, Field: f.Name, Message: "field name is reserved for the identifier"})
			}
			if fields[f.Name] {
				add(Problem{Model: m.Name, Field: f.Name, Message: "duplicate field name"})
				continue
			}
			fields[f.Name] = true
			for _, msg := range validateField(m, f, enums, relations) {
				add(Problem{Model: m.Name, Field: f.Name, Message: msg})
			}
		}
	}

	for _, r := range s.Relations {
		for _, msg := range validateRelation(s, r) {
			add(Problem{Relation: r.Name, Message: msg})
		}
	}
	problems = append(problems, validatePhysicalNames(s)...)

	if len(problems) > 0 {
		return problems
	}
	return nil
}

func validateField(m Model, f Field, enums map[string]Enum, relations map[string]Relation) []string {
	var msgs []string
	switch f.Type {
	case TypeString, TypeInt, TypeFloat, TypeBoolean, TypeJSON, TypeDateTime, TypeUUID:
	case TypeEnum:
		if _, ok := enums[f.Enum]; !ok {
			msgs = append(msgs, fmt.Sprintf("unknown enum %q", f.Enum))
		}
	case TypeRelation:
		r, ok := relations[f.Relation]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("unknown relation %q", f.Relation))
			break
		}
		if _, ok := r.Side(m.Name, f.Name); !ok {
			msgs = append(msgs, fmt.Sprintf("relation %q does not reference this field", f.Relation))
		}
		if f.Unique {
			msgs = append(msgs, "relation fields cannot be unique")
		}
		if f.Default != nil {
			msgs = append(msgs, "relation fields cannot have a default")
		}
		return msgs
	default:
		msgs = append(msgs, fmt.Sprintf("unsupported type %q", f.Type))
		return msgs
	}

	if f.Relation != "" {
		msgs = append(msgs, "only relation fields can name a relation")
	}
	if f.List {
		msgs = append(msgs, "scalar list fields are not supported")
	}
	if f.Default != nil {
		if err := validateDefault(f, enums); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func validateDefault(f Field, enums map[string]Enum) error {
	v := *f.Default
	var err error
	switch f.Type {
	case TypeInt:
		_, err = strconv.ParseInt(v, 10, 64)
	case TypeFloat:
		_, err = strconv.ParseFloat(v, 64)
	case TypeBoolean:
		_, err = strconv.ParseBool(v)
	case TypeDateTime:
		_, err = time.Parse(time.RFC3339, v)
	case TypeUUID:
		_, err = uuid.Parse(v)
	case TypeJSON:
		if !json.Valid([]byte(v)) {
			err = fmt.Errorf("not valid JSON")
		}
	case TypeEnum:
		e := enums[f.Enum]
		found := false
		for _, ev := range e.Values {
			if ev == v {
				found = true
				break
			}
		}
		if !found {
			err = fmt.Errorf("not a value of enum %s", f.Enum)
		}
	}
	if err != nil {
		return fmt.Errorf("invalid default %q for type %s: %v", v, f.Type, err)
	}
	return nil
}

func validateRelation(s Schema, r Relation) []string {
	var msgs []string
	if err := validateIdentifier(r.Name); err != nil {
		msgs = append(msgs, err.Error())
	}

	sideFields := map[RelationSide]Field{}
	for _, side := range r.Sides() {
		m, ok := s.Model(side.Model)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("side references unknown model %q", side.Model))
			continue
		}
		f, ok := m.Field(side.Field)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("side references unknown field %s.%s", side.Model, side.Field))
			continue
		}
		if !f.IsRelation() || f.Relation != r.Name {
			msgs = append(msgs, fmt.Sprintf("field %s.%s is not declared as part of this relation", side.Model, side.Field))
			continue
		}
		sideFields[side] = f
	}

	switch r.Link.Strategy {
	case LinkInline:
		if r.Link.Table != "" {
			msgs = append(msgs, "inline relations cannot name a join table")
		}
		if r.Link.Host == nil {
			msgs = append(msgs, "inline relations must name the host side")
			break
		}
		if *r.Link.Host != r.A && *r.Link.Host != r.B {
			msgs = append(msgs, fmt.Sprintf("host %s.%s is not a side of the relation", r.Link.Host.Model, r.Link.Host.Field))
			break
		}
		if f, ok := sideFields[*r.Link.Host]; ok && f.List {
			msgs = append(msgs, "the host side of an inline relation must be to-one")
		}
		if r.Link.Column != "" {
			if err := validateIdentifier(r.Link.Column); err != nil {
				msgs = append(msgs, fmt.Sprintf("column: %v", err))
			}
		}
	case LinkTable:
		if r.Link.Host != nil || r.Link.Column != "" {
			msgs = append(msgs, "join table relations cannot name a host or column")
		}
		if r.Link.Table != "" {
			if err := validateIdentifier(r.Link.Table); err != nil {
				msgs = append(msgs, fmt.Sprintf("table: %v", err))
			}
		}
	default:
		msgs = append(msgs, fmt.Sprintf("unsupported link strategy %q", r.Link.Strategy))
	}
	return msgs
}

// validatePhysicalNames reports relations whose join table or foreign key
// column lands on a name already taken in the same namespace.
func validatePhysicalNames(s Schema) Problems {
	var problems Problems
	tables := map[string]string{}
	columns := map[string]map[string]string{}
	for _, m := range s.Models {
		if _, dup := tables[m.Name]; dup {
			continue
		}
		tables[m.Name] = "model " + m.Name
		cols := map[string]string{IDColumn: "the identifier"}
		for _, f := range m.ScalarFields() {
			if _, taken := cols[f.Name]; !taken {
				cols[f.Name] = "field " + f.Name
			}
		}
		columns[m.Name] = cols
	}

	seen := map[string]bool{}
	for _, r := range s.Relations {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		switch r.Link.Strategy {
		case LinkTable:
			name := r.JoinTableName()
			if len(name) > MaxIdentifierLength {
				problems = append(problems, Problem{Relation: r.Name,
					Message: fmt.Sprintf("join table name '%s' is too long (max %d characters)", name, MaxIdentifierLength)})
				continue
			}
			if owner, taken := tables[name]; taken {
				problems = append(problems, Problem{Relation: r.Name,
					Message: fmt.Sprintf("join table %s collides with the table of %s", name, owner)})
				continue
			}
			tables[name] = "relation " + r.Name
		case LinkInline:
			if r.Link.Host == nil {
				continue
			}
			cols, ok := columns[r.Link.Host.Model]
			if !ok {
				continue
			}
			name := r.InlineColumnName()
			if owner, taken := cols[name]; taken {
				problems = append(problems, Problem{Relation: r.Name,
					Message: fmt.Sprintf("column %s.%s collides with %s", r.Link.Host.Model, name, owner)})
				continue
			}
			cols[name] = "relation " + r.Name
		}
	}
	return problems
}

// validateIdentifier applies the PostgreSQL identifier rules.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("name '%s' is too long (max %d characters)", name, MaxIdentifierLength)
	}
	for i, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9' && i > 0) || char == '_') {
			return fmt.Errorf("name '%s' contains invalid character '%c'", name, char)
		}
	}
	return nil
}
