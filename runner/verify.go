package runner

import (
	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// affected returns the desired shape of every table the steps touch, and the
// tables the steps remove.
func affected(prev, next schema.Schema, steps []diff.Step) (expected []introspect.Table, gone []string, err error) {
	match, err := schema.MatchSchemas(prev, next)
	if err != nil {
		return nil, nil, err
	}

	models := map[string]bool{}
	relations := map[string]bool{}
	dropped := map[string]bool{}

	for _, step := range steps {
		switch step.Type {
		case diff.CreateModel, diff.CreateField, diff.UpdateField:
			models[step.Model] = true
		case diff.UpdateModel:
			models[step.Model] = true
			if pm, ok := prev.Model(step.OldName); ok {
				dropped[mapping.TableName(pm)] = true
			}
		case diff.DeleteField:
			if name, ok := match.NextModel(step.Model); ok {
				models[name] = true
			}
		case diff.DeleteModel:
			if pm, ok := prev.Model(step.Model); ok {
				dropped[mapping.TableName(pm)] = true
			}
		case diff.DeleteRelationTable:
			if pr, ok := prev.Relation(step.Relation); ok {
				dropped[mapping.JoinTableName(pr)] = true
			}
		case diff.CreateRelationTable:
			relations[step.Relation] = true
		case diff.UpdateRelation:
			relations[step.Relation] = true
			if prevName, ok := match.PrevRelation(step.Relation); ok {
				if pr, ok := prev.Relation(prevName); ok && pr.Link.Strategy == schema.LinkTable {
					dropped[mapping.JoinTableName(pr)] = true
				}
			}
		}
	}

	for _, r := range next.Relations {
		if !relations[r.Name] || r.Link.Strategy != schema.LinkInline || r.Link.Host == nil {
			continue
		}
		models[r.Link.Host.Model] = true
	}

	kept := map[string]bool{}
	for _, m := range next.Models {
		if models[m.Name] {
			t := mapping.ModelTable(next, m)
			expected = append(expected, t)
			kept[t.Name] = true
		}
	}
	for _, r := range next.Relations {
		if relations[r.Name] && r.Link.Strategy == schema.LinkTable {
			t := mapping.JoinTable(next, r)
			expected = append(expected, t)
			kept[t.Name] = true
		}
	}
	for _, t := range mapping.Tables(next) {
		kept[t.Name] = true
	}
	for _, m := range prev.Models {
		if name := mapping.TableName(m); dropped[name] && !kept[name] {
			gone = append(gone, name)
		}
	}
	for _, r := range prev.Relations {
		if r.Link.Strategy != schema.LinkTable {
			continue
		}
		if name := mapping.JoinTableName(r); dropped[name] && !kept[name] {
			gone = append(gone, name)
		}
	}
	return expected, gone, nil
}

// verify compares the introspected tables with the expected ones.
func verify(expected []introspect.Table, gone []string, actual []introspect.Table) (tables []introspect.Table, mismatches []introspect.Mismatch) {
	for _, want := range expected {
		got, ok := introspect.Find(actual, want.Name)
		if !ok {
			mismatches = append(mismatches, introspect.Mismatch{Table: want.Name, Message: "table missing"})
			continue
		}
		tables = append(tables, got)
		mismatches = append(mismatches, introspect.Compare(want, got)...)
	}
	for _, name := range gone {
		if _, ok := introspect.Find(actual, name); ok {
			mismatches = append(mismatches, introspect.Mismatch{Table: name, Message: "table should have been dropped"})
		}
	}
	return tables, mismatches
}
