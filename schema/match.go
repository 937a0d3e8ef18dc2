package schema

import (
	"fmt"
	"strings"
)

// Problem is a single structural issue found in a schema or between two schemas.
type Problem struct {
	Model    string `json:"model,omitempty"`
	Field    string `json:"field,omitempty"`
	Relation string `json:"relation,omitempty"`
	Enum     string `json:"enum,omitempty"`
	Message  string `json:"message"`
}

func (p Problem) String() string {
	var target string
	switch {
	case p.Model != "" && p.Field != "":
		target = p.Model + "." + p.Field
	case p.Model != "":
		target = p.Model
	case p.Relation != "":
		target = "relation " + p.Relation
	case p.Enum != "":
		target = "enum " + p.Enum
	}
	if target == "" {
		return p.Message
	}
	return fmt.Sprintf("[%s] %s", target, p.Message)
}

// Problems aggregates problems so a caller sees all of them at once.
type Problems []Problem

func (ps Problems) Error() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}

// Match pairs the elements of a desired schema with their counterpart in
// the current schema. Identity is the declared name; an OldName annotation
// is only honoured when the new name is absent from the current schema.
type Match struct {
	models    nameMap
	enums     nameMap
	relations nameMap
	fields    map[string]nameMap // keyed by desired model name
}

type nameMap struct {
	prev map[string]string // desired -> current
	next map[string]string // current -> desired
}

func newNameMap() nameMap {
	return nameMap{prev: map[string]string{}, next: map[string]string{}}
}

type named struct {
	name    string
	oldName string
}

// pair matches desired names against current ones, reporting ambiguous renames.
func (nm nameMap) pair(current map[string]bool, desired []named, problem func(name, msg string)) {
	claimed := map[string]string{}
	for _, d := range desired {
		var prev string
		switch {
		case current[d.name]:
			if d.oldName != "" && d.oldName != d.name && current[d.oldName] {
				problem(d.name, fmt.Sprintf("ambiguous rename: both %q and %q exist in the current schema", d.oldName, d.name))
				continue
			}
			prev = d.name
		case d.oldName != "" && current[d.oldName]:
			prev = d.oldName
		default:
			continue
		}
		if other, ok := claimed[prev]; ok {
			problem(d.name, fmt.Sprintf("ambiguous rename: %q is claimed by both %q and %q", prev, other, d.name))
			continue
		}
		claimed[prev] = d.name
		nm.prev[d.name] = prev
		nm.next[prev] = d.name
	}
}

// MatchSchemas computes the identity mapping from current to desired.
func MatchSchemas(current, desired Schema) (*Match, error) {
	var problems Problems
	m := &Match{
		models:    newNameMap(),
		enums:     newNameMap(),
		relations: newNameMap(),
		fields:    map[string]nameMap{},
	}

	currentModels := map[string]bool{}
	for _, cm := range current.Models {
		currentModels[cm.Name] = true
	}
	var desiredModels []named
	for _, dm := range desired.Models {
		desiredModels = append(desiredModels, named{dm.Name, dm.OldName})
	}
	m.models.pair(currentModels, desiredModels, func(name, msg string) {
		problems = append(problems, Problem{Model: name, Message: msg})
	})

	for _, dm := range desired.Models {
		fm := newNameMap()
		m.fields[dm.Name] = fm
		prevName, ok := m.models.prev[dm.Name]
		if !ok {
			continue
		}
		cm, _ := current.Model(prevName)
		currentFields := map[string]bool{}
		for _, f := range cm.Fields {
			currentFields[f.Name] = true
		}
		var desiredFields []named
		for _, f := range dm.Fields {
			desiredFields = append(desiredFields, named{f.Name, f.OldName})
		}
		model := dm.Name
		fm.pair(currentFields, desiredFields, func(name, msg string) {
			problems = append(problems, Problem{Model: model, Field: name, Message: msg})
		})
	}

	currentEnums := map[string]bool{}
	for _, e := range current.Enums {
		currentEnums[e.Name] = true
	}
	var desiredEnums []named
	for _, e := range desired.Enums {
		desiredEnums = append(desiredEnums, named{e.Name, e.OldName})
	}
	m.enums.pair(currentEnums, desiredEnums, func(name, msg string) {
		problems = append(problems, Problem{Enum: name, Message: msg})
	})

	currentRelations := map[string]bool{}
	for _, r := range current.Relations {
		currentRelations[r.Name] = true
	}
	var desiredRelations []named
	for _, r := range desired.Relations {
		desiredRelations = append(desiredRelations, named{r.Name, r.OldName})
	}
	m.relations.pair(currentRelations, desiredRelations, func(name, msg string) {
		problems = append(problems, Problem{Relation: name, Message: msg})
	})

	if len(problems) > 0 {
		return nil, problems
	}
	return m, nil
}

// PrevModel returns the current name of a desired model.
func (m *Match) PrevModel(next string) (string, bool) {
	p, ok := m.models.prev[next]
	return p, ok
}

// NextModel returns the desired name of a current model, false when deleted.
func (m *Match) NextModel(prev string) (string, bool) {
	n, ok := m.models.next[prev]
	return n, ok
}

// PrevField returns the current name of a field of a desired model.
func (m *Match) PrevField(nextModel, nextField string) (string, bool) {
	p, ok := m.fields[nextModel].prev[nextField]
	return p, ok
}

// NextField maps a current model field to its desired name.
func (m *Match) NextField(prevModel, prevField string) (model, field string, ok bool) {
	model, ok = m.NextModel(prevModel)
	if !ok {
		return "", "", false
	}
	field, ok = m.fields[model].next[prevField]
	return model, field, ok
}

func (m *Match) PrevEnum(next string) (string, bool) {
	p, ok := m.enums.prev[next]
	return p, ok
}

func (m *Match) NextEnum(prev string) (string, bool) {
	n, ok := m.enums.next[prev]
	return n, ok
}

func (m *Match) PrevRelation(next string) (string, bool) {
	p, ok := m.relations.prev[next]
	return p, ok
}

func (m *Match) NextRelation(prev string) (string, bool) {
	n, ok := m.relations.next[prev]
	return n, ok
}

// NextSide maps a relation side of the current schema into the desired one.
func (m *Match) NextSide(prev RelationSide) (RelationSide, bool) {
	model, field, ok := m.NextField(prev.Model, prev.Field)
	if !ok {
		return RelationSide{}, false
	}
	return RelationSide{Model: model, Field: field}, true
}

// SameType reports whether a field keeps its stored type across the match.
// An enum field is unchanged when its enum was only renamed.
func (m *Match) SameType(prev, next Field) bool {
	if prev.Type != next.Type {
		return false
	}
	if prev.Enum == next.Enum {
		return true
	}
	p, ok := m.PrevEnum(next.Enum)
	return ok && p == prev.Enum
}
