package schema

// Schema is the logical description of a project's data: models, enums and
// the relations wiring model fields together.
type Schema struct {
	Models    []Model    `json:"models"`
	Enums     []Enum     `json:"enums,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

type Model struct {
	Name string `json:"name"`
	// OldName marks a rename: the model was called OldName in the current schema.
	OldName string  `json:"oldName,omitempty"`
	IDType  IDType  `json:"idType,omitempty"`
	Fields  []Field `json:"fields"`
}

type Field struct {
	Name     string         `json:"name"`
	OldName  string         `json:"oldName,omitempty"`
	Type     TypeIdentifier `json:"type"`
	Enum     string         `json:"enum,omitempty"` // enum name for TypeEnum fields
	Required bool           `json:"required,omitempty"`
	Unique   bool           `json:"unique,omitempty"`
	List     bool           `json:"list,omitempty"` // to-many, relation fields only
	Default  *string        `json:"default,omitempty"`
	Relation string         `json:"relation,omitempty"` // relation name for TypeRelation fields
}

type Enum struct {
	Name    string   `json:"name"`
	OldName string   `json:"oldName,omitempty"`
	Values  []string `json:"values"`
}

type Relation struct {
	Name    string       `json:"name"`
	OldName string       `json:"oldName,omitempty"`
	A       RelationSide `json:"a"`
	B       RelationSide `json:"b"`
	Link    Link         `json:"link"`
}

type RelationSide struct {
	Model string `json:"model"`
	Field string `json:"field"`
}

// Link describes how a relation is stored physically.
type Link struct {
	Strategy LinkStrategy `json:"strategy"`
	// Host is the side carrying the foreign key column of an inline link.
	Host *RelationSide `json:"host,omitempty"`
	// Column overrides the foreign key column name of an inline link.
	Column string `json:"column,omitempty"`
	// Table overrides the join table name of a table link.
	Table string `json:"table,omitempty"`
}

type LinkStrategy string

const (
	LinkInline LinkStrategy = "inline"
	LinkTable  LinkStrategy = "table"
)

type TypeIdentifier string

const (
	TypeString   TypeIdentifier = "String"
	TypeInt      TypeIdentifier = "Int"
	TypeFloat    TypeIdentifier = "Float"
	TypeBoolean  TypeIdentifier = "Boolean"
	TypeEnum     TypeIdentifier = "Enum"
	TypeJSON     TypeIdentifier = "Json"
	TypeDateTime TypeIdentifier = "DateTime"
	TypeUUID     TypeIdentifier = "UUID"
	TypeRelation TypeIdentifier = "Relation"
)

// IDType is the type of a model's identifying column.
type IDType string

const (
	IDString IDType = "String"
	IDInt    IDType = "Int"
	IDUUID   IDType = "UUID"
)

// IDColumn is the name of the synthetic identifying column of every model.
const IDColumn = "id"

// EffectiveIDType returns the id type, defaulting to IDString.
func (m Model) EffectiveIDType() IDType {
	if m.IDType == "" {
		return IDString
	}
	return m.IDType
}

func (s Schema) Model(name string) (Model, bool) {
	for _, m := range s.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

func (s Schema) Enum(name string) (Enum, bool) {
	for _, e := range s.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return Enum{}, false
}

func (s Schema) Relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

func (m Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ScalarFields returns the non-relation fields in declaration order.
func (m Model) ScalarFields() []Field {
	var out []Field
	for _, f := range m.Fields {
		if !f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

func (f Field) IsRelation() bool {
	return f.Type == TypeRelation
}

// Side returns the relation side at the given model and field, if any.
func (r Relation) Side(model, field string) (RelationSide, bool) {
	switch {
	case r.A.Model == model && r.A.Field == field:
		return r.A, true
	case r.B.Model == model && r.B.Field == field:
		return r.B, true
	}
	return RelationSide{}, false
}

// Other returns the opposite side of the given one. For a self-relation
// declared on a single field both sides are equal.
func (r Relation) Other(side RelationSide) RelationSide {
	if side == r.A {
		return r.B
	}
	return r.A
}

// IsSelf reports whether both sides live on the same model.
func (r Relation) IsSelf() bool {
	return r.A.Model == r.B.Model
}

// Sides returns the distinct sides of the relation, A first.
func (r Relation) Sides() []RelationSide {
	if r.A == r.B {
		return []RelationSide{r.A}
	}
	return []RelationSide{r.A, r.B}
}

// JoinTableName is the physical table of a table-linked relation.
func (r Relation) JoinTableName() string {
	if r.Link.Table != "" {
		return r.Link.Table
	}
	return "_" + r.Name
}

// InlineColumnName is the foreign key column of an inline relation.
func (r Relation) InlineColumnName() string {
	if r.Link.Column != "" {
		return r.Link.Column
	}
	if r.Link.Host != nil {
		return r.Link.Host.Field
	}
	return ""
}
