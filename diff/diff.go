package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ridoystarlord/schemadeploy/schema"
)

type StepType string

const (
	CreateModel         StepType = "CreateModel"
	DeleteModel         StepType = "DeleteModel"
	UpdateModel         StepType = "UpdateModel"
	CreateField         StepType = "CreateField"
	DeleteField         StepType = "DeleteField"
	UpdateField         StepType = "UpdateField"
	CreateEnum          StepType = "CreateEnum"
	DeleteEnum          StepType = "DeleteEnum"
	UpdateEnum          StepType = "UpdateEnum"
	CreateRelationTable StepType = "CreateRelationTable"
	DeleteRelationTable StepType = "DeleteRelationTable"
	UpdateRelation      StepType = "UpdateRelation"
)

// Change names one aspect modified by an update step.
type Change string

const (
	ChangeName     Change = "name"
	ChangeType     Change = "type"
	ChangeRequired Change = "required"
	ChangeUnique   Change = "unique"
	ChangeDefault  Change = "default"
	ChangeValues   Change = "values"
	ChangeSides    Change = "sides"
	ChangeList     Change = "list"
	ChangeLink     Change = "link"
)

// Step is one structural change. Steps ordered before UpdateModel refer to
// models by their current name, later steps by their desired name.
type Step struct {
	Type     StepType `json:"type"`
	Model    string   `json:"model,omitempty"`
	Field    string   `json:"field,omitempty"`
	Enum     string   `json:"enum,omitempty"`
	Relation string   `json:"relation,omitempty"`
	// OldName is the previous name of a renamed model, field, enum or relation.
	OldName       string   `json:"oldName,omitempty"`
	Changes       []Change `json:"changes,omitempty"`
	AddedValues   []string `json:"addedValues,omitempty"`
	RemovedValues []string `json:"removedValues,omitempty"`
}

func (s Step) Has(c Change) bool {
	return slices.Contains(s.Changes, c)
}

func (s Step) String() string {
	var target string
	switch {
	case s.Relation != "":
		target = "relation " + s.Relation
	case s.Enum != "":
		target = "enum " + s.Enum
	case s.Field != "":
		target = s.Model + "." + s.Field
	default:
		target = s.Model
	}
	if s.OldName != "" {
		target += " (was " + s.OldName + ")"
	}
	if len(s.Changes) > 0 {
		names := make([]string, len(s.Changes))
		for i, c := range s.Changes {
			names[i] = string(c)
		}
		target += " [" + strings.Join(names, ",") + "]"
	}
	return fmt.Sprintf("%s %s", s.Type, target)
}

type ErrorKind string

const (
	KindInvalidSchema     ErrorKind = "InvalidSchema"
	KindAmbiguousRename   ErrorKind = "AmbiguousRename"
	KindUnsupportedChange ErrorKind = "UnsupportedChange"
)

// Error is a schema transformation that cannot be planned.
type Error struct {
	Kind     ErrorKind
	Problems schema.Problems
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Problems.Error())
}

type MissingCapability struct {
	Model      string            `json:"model"`
	IDType     schema.IDType     `json:"idType"`
	Capability schema.Capability `json:"capability"`
}

// CapabilityError lists the models whose id type needs a capability the
// backend does not offer.
type CapabilityError struct {
	Missing []MissingCapability
}

func (e *CapabilityError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("model %s: id type %s requires capability %s", m.Model, m.IDType, m.Capability)
	}
	return "UnsupportedCapability: " + strings.Join(parts, "; ")
}

// Infer computes the ordered steps transforming current into desired. The
// desired schema is validated first; the result only depends on the inputs
// and their declaration order.
func Infer(current, desired schema.Schema, caps schema.CapabilitySet) ([]Step, error) {
	if err := schema.Validate(desired); err != nil {
		return nil, &Error{Kind: KindInvalidSchema, Problems: asProblems(err)}
	}
	match, err := schema.MatchSchemas(current, desired)
	if err != nil {
		return nil, &Error{Kind: KindAmbiguousRename, Problems: asProblems(err)}
	}

	inf := &inferrer{current: current, desired: desired, match: match}
	if problems := inf.unsupported(); len(problems) > 0 {
		return nil, &Error{Kind: KindUnsupportedChange, Problems: problems}
	}
	if missing := inf.missingCapabilities(caps); len(missing) > 0 {
		return nil, &CapabilityError{Missing: missing}
	}

	inf.enums()
	inf.relationRemovals()
	inf.scalarDeletes()
	inf.modelDeletes()
	inf.modelUpdates()
	inf.modelCreates()
	inf.scalarChanges()
	inf.relationChanges()
	inf.enumDeletes()
	return inf.steps, nil
}

func asProblems(err error) schema.Problems {
	if ps, ok := err.(schema.Problems); ok {
		return ps
	}
	return schema.Problems{{Message: err.Error()}}
}

type inferrer struct {
	current schema.Schema
	desired schema.Schema
	match   *schema.Match
	steps   []Step
}

func (inf *inferrer) add(s Step) {
	inf.steps = append(inf.steps, s)
}

func (inf *inferrer) unsupported() schema.Problems {
	var problems schema.Problems
	for _, next := range inf.desired.Models {
		prevName, ok := inf.match.PrevModel(next.Name)
		if !ok {
			continue
		}
		prev, _ := inf.current.Model(prevName)
		if prev.EffectiveIDType() != next.EffectiveIDType() {
			problems = append(problems, schema.Problem{Model: next.Name,
				Message: fmt.Sprintf("changing the id type from %s to %s is not supported", prev.EffectiveIDType(), next.EffectiveIDType())})
		}
		for _, nf := range next.Fields {
			pfName, ok := inf.match.PrevField(next.Name, nf.Name)
			if !ok {
				continue
			}
			pf, _ := prev.Field(pfName)
			if pf.IsRelation() != nf.IsRelation() {
				problems = append(problems, schema.Problem{Model: next.Name, Field: nf.Name,
					Message: "changing a field between scalar and relation is not supported"})
			}
		}
	}

	for _, next := range inf.desired.Relations {
		prevName, ok := inf.match.PrevRelation(next.Name)
		if !ok {
			continue
		}
		prev, _ := inf.current.Relation(prevName)
		a, okA := inf.match.NextSide(prev.A)
		b, okB := inf.match.NextSide(prev.B)
		if !okA || !okB || a != next.A || b != next.B {
			problems = append(problems, schema.Problem{Relation: next.Name,
				Message: "changing the sides of a relation is not supported"})
			continue
		}
		if prev.Link.Strategy != next.Link.Strategy {
			problems = append(problems, schema.Problem{Relation: next.Name,
				Message: fmt.Sprintf("changing the link strategy from %s to %s is not supported", prev.Link.Strategy, next.Link.Strategy)})
			continue
		}
		if next.Link.Strategy == schema.LinkInline && prev.Link.Host != nil {
			host, ok := inf.match.NextSide(*prev.Link.Host)
			if !ok || next.Link.Host == nil || host != *next.Link.Host {
				problems = append(problems, schema.Problem{Relation: next.Name,
					Message: "moving the foreign key to the other side of a relation is not supported"})
			}
		}
	}
	return problems
}

func (inf *inferrer) missingCapabilities(caps schema.CapabilitySet) []MissingCapability {
	var missing []MissingCapability
	for _, m := range inf.desired.Models {
		if _, existed := inf.match.PrevModel(m.Name); existed {
			continue
		}
		c, needed := schema.RequiredCapability(m.EffectiveIDType())
		if needed && !caps.Has(c) {
			missing = append(missing, MissingCapability{Model: m.Name, IDType: m.EffectiveIDType(), Capability: c})
		}
	}
	return missing
}

func (inf *inferrer) enums() {
	for _, next := range inf.desired.Enums {
		prevName, ok := inf.match.PrevEnum(next.Name)
		if !ok {
			inf.add(Step{Type: CreateEnum, Enum: next.Name})
			continue
		}
		prev, _ := inf.current.Enum(prevName)
		step := Step{Type: UpdateEnum, Enum: next.Name}
		if prevName != next.Name {
			step.OldName = prevName
			step.Changes = append(step.Changes, ChangeName)
		}
		if !slices.Equal(prev.Values, next.Values) {
			step.Changes = append(step.Changes, ChangeValues)
			for _, v := range next.Values {
				if !slices.Contains(prev.Values, v) {
					step.AddedValues = append(step.AddedValues, v)
				}
			}
			for _, v := range prev.Values {
				if !slices.Contains(next.Values, v) {
					step.RemovedValues = append(step.RemovedValues, v)
				}
			}
		}
		if len(step.Changes) > 0 {
			inf.add(step)
		}
	}
}

// relationRemovals drops removed relations before any model they reference.
func (inf *inferrer) relationRemovals() {
	for _, prev := range inf.current.Relations {
		if _, kept := inf.match.NextRelation(prev.Name); kept {
			continue
		}
		if prev.Link.Strategy == schema.LinkTable {
			inf.add(Step{Type: DeleteRelationTable, Relation: prev.Name})
		}
		for _, side := range prev.Sides() {
			if _, survives := inf.match.NextModel(side.Model); !survives {
				continue
			}
			inf.add(Step{Type: DeleteField, Model: side.Model, Field: side.Field})
		}
	}
}

func (inf *inferrer) scalarDeletes() {
	for _, prev := range inf.current.Models {
		if _, survives := inf.match.NextModel(prev.Name); !survives {
			continue
		}
		for _, f := range prev.Fields {
			if f.IsRelation() {
				continue
			}
			if _, _, kept := inf.match.NextField(prev.Name, f.Name); kept {
				continue
			}
			inf.add(Step{Type: DeleteField, Model: prev.Name, Field: f.Name})
		}
	}
}

func (inf *inferrer) modelDeletes() {
	for _, prev := range inf.current.Models {
		if _, survives := inf.match.NextModel(prev.Name); !survives {
			inf.add(Step{Type: DeleteModel, Model: prev.Name})
		}
	}
}

func (inf *inferrer) modelUpdates() {
	for _, next := range inf.desired.Models {
		prevName, ok := inf.match.PrevModel(next.Name)
		if ok && prevName != next.Name {
			inf.add(Step{Type: UpdateModel, Model: next.Name, OldName: prevName, Changes: []Change{ChangeName}})
		}
	}
}

func (inf *inferrer) modelCreates() {
	for _, next := range inf.desired.Models {
		if _, ok := inf.match.PrevModel(next.Name); !ok {
			inf.add(Step{Type: CreateModel, Model: next.Name})
		}
	}
}

func (inf *inferrer) scalarChanges() {
	for _, next := range inf.desired.Models {
		prevName, ok := inf.match.PrevModel(next.Name)
		if !ok {
			continue
		}
		prev, _ := inf.current.Model(prevName)
		for _, nf := range next.Fields {
			if nf.IsRelation() {
				continue
			}
			pfName, ok := inf.match.PrevField(next.Name, nf.Name)
			if !ok {
				inf.add(Step{Type: CreateField, Model: next.Name, Field: nf.Name})
				continue
			}
			pf, _ := prev.Field(pfName)
			if changes := fieldChanges(inf.match, pf, nf); len(changes) > 0 {
				step := Step{Type: UpdateField, Model: next.Name, Field: nf.Name, Changes: changes}
				if pfName != nf.Name {
					step.OldName = pfName
				}
				inf.add(step)
			}
		}
	}
}

func fieldChanges(match *schema.Match, prev, next schema.Field) []Change {
	var changes []Change
	if prev.Name != next.Name {
		changes = append(changes, ChangeName)
	}
	if !match.SameType(prev, next) {
		changes = append(changes, ChangeType)
	}
	if prev.Required != next.Required {
		changes = append(changes, ChangeRequired)
	}
	if prev.Unique != next.Unique {
		changes = append(changes, ChangeUnique)
	}
	if !equalDefault(prev.Default, next.Default) {
		changes = append(changes, ChangeDefault)
	}
	return changes
}

func equalDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// relationChanges runs after every model exists, so foreign keys always
// reference live tables.
func (inf *inferrer) relationChanges() {
	for _, next := range inf.desired.Relations {
		prevName, ok := inf.match.PrevRelation(next.Name)
		if !ok {
			for _, side := range next.Sides() {
				inf.add(Step{Type: CreateField, Model: side.Model, Field: side.Field})
			}
			if next.Link.Strategy == schema.LinkTable {
				inf.add(Step{Type: CreateRelationTable, Relation: next.Name})
			}
			continue
		}
		prev, _ := inf.current.Relation(prevName)
		if changes := inf.relationDelta(prev, next); len(changes) > 0 {
			step := Step{Type: UpdateRelation, Relation: next.Name, Changes: changes}
			if prevName != next.Name {
				step.OldName = prevName
			}
			inf.add(step)
		}
	}
}

func (inf *inferrer) relationDelta(prev, next schema.Relation) []Change {
	var changes []Change
	if prev.Name != next.Name {
		changes = append(changes, ChangeName)
	}
	var renamed, list, required bool
	for i, ps := range []schema.RelationSide{prev.A, prev.B} {
		ns := next.A
		if i == 1 {
			ns = next.B
		}
		if ps.Field != ns.Field {
			renamed = true
		}
		pf := inf.field(inf.current, ps)
		nf := inf.field(inf.desired, ns)
		if pf.List != nf.List {
			list = true
		}
		if pf.Required != nf.Required {
			required = true
		}
	}
	if renamed {
		changes = append(changes, ChangeSides)
	}
	if list {
		changes = append(changes, ChangeList)
	}
	if required {
		changes = append(changes, ChangeRequired)
	}
	if prev.Link.Column != next.Link.Column || prev.Link.Table != next.Link.Table {
		changes = append(changes, ChangeLink)
	}
	return changes
}

func (inf *inferrer) field(s schema.Schema, side schema.RelationSide) schema.Field {
	m, _ := s.Model(side.Model)
	f, _ := m.Field(side.Field)
	return f
}

func (inf *inferrer) enumDeletes() {
	for _, prev := range inf.current.Enums {
		if _, kept := inf.match.NextEnum(prev.Name); !kept {
			inf.add(Step{Type: DeleteEnum, Enum: prev.Name})
		}
	}
}
