package deploy

import (
	"fmt"

	"github.com/ridoystarlord/schemadeploy/schema"
	"github.com/ridoystarlord/schemadeploy/store"
)

// reverseRenames annotates target so that diffing the current schema against
// it renames back whatever the later migrations renamed, instead of dropping
// and recreating it.
func reverseRenames(target schema.Schema, later []store.Migration) (schema.Schema, error) {
	matches := make([]*schema.Match, len(later))
	for i, m := range later {
		match, err := schema.MatchSchemas(m.Previous, m.Desired)
		if err != nil {
			return schema.Schema{}, fmt.Errorf("replay migration %s: %w", m.ID, err)
		}
		matches[i] = match
	}

	out := clearRenames(target)
	for mi := range out.Models {
		model := &out.Models[mi]
		if name, ok := forward(model.Name, matches, (*schema.Match).NextModel); ok && name != model.Name {
			model.OldName = name
		}
		for fi := range model.Fields {
			field := &model.Fields[fi]
			m, f, ok := model.Name, field.Name, true
			for _, match := range matches {
				if m, f, ok = match.NextField(m, f); !ok {
					break
				}
			}
			if ok && f != field.Name {
				field.OldName = f
			}
		}
	}
	for i := range out.Enums {
		if name, ok := forward(out.Enums[i].Name, matches, (*schema.Match).NextEnum); ok && name != out.Enums[i].Name {
			out.Enums[i].OldName = name
		}
	}
	for i := range out.Relations {
		if name, ok := forward(out.Relations[i].Name, matches, (*schema.Match).NextRelation); ok && name != out.Relations[i].Name {
			out.Relations[i].OldName = name
		}
	}
	return out, nil
}

func forward(name string, matches []*schema.Match, next func(*schema.Match, string) (string, bool)) (string, bool) {
	for _, m := range matches {
		var ok bool
		if name, ok = next(m, name); !ok {
			return "", false
		}
	}
	return name, true
}

// clearRenames returns a deep copy of s without rename annotations.
func clearRenames(s schema.Schema) schema.Schema {
	out := schema.Schema{
		Models:    make([]schema.Model, len(s.Models)),
		Enums:     make([]schema.Enum, len(s.Enums)),
		Relations: make([]schema.Relation, len(s.Relations)),
	}
	for i, m := range s.Models {
		m.OldName = ""
		fields := make([]schema.Field, len(m.Fields))
		for j, f := range m.Fields {
			f.OldName = ""
			fields[j] = f
		}
		m.Fields = fields
		out.Models[i] = m
	}
	for i, e := range s.Enums {
		e.OldName = ""
		out.Enums[i] = e
	}
	for i, r := range s.Relations {
		r.OldName = ""
		out.Relations[i] = r
	}
	return out
}
