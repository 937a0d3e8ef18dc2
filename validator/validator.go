package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

type ConflictKind string

const (
	DataLoss          ConflictKind = "DataLoss"
	RequiredNoValue   ConflictKind = "RequiredNoValue"
	NullValues        ConflictKind = "NullValues"
	DuplicateValues   ConflictKind = "DuplicateValues"
	TypeChange        ConflictKind = "TypeChange"
	DuplicateRelation ConflictKind = "DuplicateRelation"
	EnumValueInUse    ConflictKind = "EnumValueInUse"
)

// Conflict is live data that a step would violate or destroy.
type Conflict struct {
	Kind     ConflictKind `json:"kind"`
	Step     int          `json:"step"`
	Model    string       `json:"model,omitempty"`
	Field    string       `json:"field,omitempty"`
	Relation string       `json:"relation,omitempty"`
	Enum     string       `json:"enum,omitempty"`
	Message  string       `json:"message"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s (step %d): %s", c.Kind, c.Step+1, c.Message)
}

// Conflicts is the aggregated DataConflict error of one migration.
type Conflicts []Conflict

func (cs Conflicts) Error() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return "DataConflict: " + strings.Join(parts, "; ")
}

// Screen runs the probe guarding each risky step against the data of prev
// and returns every conflict found. Probe failures abort the screen.
func Screen(ctx context.Context, probes Probes, steps []diff.Step, prev, next schema.Schema) (Conflicts, error) {
	match, err := schema.MatchSchemas(prev, next)
	if err != nil {
		return nil, fmt.Errorf("matching schemas: %w", err)
	}
	s := &screener{probes: probes, prev: prev, next: next, match: match}
	for i, step := range steps {
		if err := s.screen(ctx, i, step); err != nil {
			return nil, fmt.Errorf("screening step %d (%s): %w", i+1, step, err)
		}
	}
	return s.conflicts, nil
}

type screener struct {
	probes    Probes
	prev      schema.Schema
	next      schema.Schema
	match     *schema.Match
	conflicts Conflicts
}

func (s *screener) conflict(c Conflict) {
	s.conflicts = append(s.conflicts, c)
}

func (s *screener) screen(ctx context.Context, i int, step diff.Step) error {
	switch step.Type {
	case diff.DeleteModel:
		m, ok := s.prev.Model(step.Model)
		if !ok {
			return nil
		}
		found, err := s.probes.ExistsByModel(ctx, mapping.TableName(m))
		if err != nil || !found {
			return err
		}
		s.conflict(Conflict{Kind: DataLoss, Step: i, Model: m.Name,
			Message: fmt.Sprintf("deleting model %s removes its existing rows", m.Name)})

	case diff.DeleteRelationTable:
		r, ok := s.prev.Relation(step.Relation)
		if !ok {
			return nil
		}
		found, err := s.probes.ExistsByRelation(ctx, mapping.RelationLink(s.prev, r))
		if err != nil || !found {
			return err
		}
		s.conflict(Conflict{Kind: DataLoss, Step: i, Relation: r.Name,
			Message: fmt.Sprintf("deleting relation %s removes its existing links", r.Name)})

	case diff.DeleteField:
		return s.screenDeleteField(ctx, i, step)

	case diff.CreateField:
		m, f, ok := s.nextField(step.Model, step.Field)
		if !ok || f.IsRelation() || !f.Required || f.Default != nil {
			return nil
		}
		prevName, ok := s.match.PrevModel(m.Name)
		if !ok {
			return nil
		}
		pm, _ := s.prev.Model(prevName)
		found, err := s.probes.ExistsByModel(ctx, mapping.TableName(pm))
		if err != nil || !found {
			return err
		}
		s.conflict(Conflict{Kind: RequiredNoValue, Step: i, Model: m.Name, Field: f.Name,
			Message: fmt.Sprintf("required field %s.%s has no default and model %s already has rows", m.Name, f.Name, m.Name)})

	case diff.UpdateField:
		return s.screenUpdateField(ctx, i, step)

	case diff.UpdateRelation:
		return s.screenUpdateRelation(ctx, i, step)

	case diff.UpdateEnum:
		return s.screenUpdateEnum(ctx, i, step)
	}
	return nil
}

func (s *screener) screenDeleteField(ctx context.Context, i int, step diff.Step) error {
	m, ok := s.prev.Model(step.Model)
	if !ok {
		return nil
	}
	f, ok := m.Field(step.Field)
	if !ok {
		return nil
	}
	if !f.IsRelation() {
		found, err := s.probes.ExistsByModel(ctx, mapping.TableName(m))
		if err != nil || !found {
			return err
		}
		s.conflict(Conflict{Kind: DataLoss, Step: i, Model: m.Name, Field: f.Name,
			Message: fmt.Sprintf("deleting field %s.%s removes its existing values", m.Name, f.Name)})
		return nil
	}

	r, ok := s.prev.Relation(f.Relation)
	if !ok || r.Link.Strategy != schema.LinkInline || r.Link.Host == nil {
		return nil
	}
	if r.Link.Host.Model != m.Name || r.Link.Host.Field != f.Name {
		return nil
	}
	found, err := s.probes.ExistsByRelation(ctx, mapping.RelationLink(s.prev, r))
	if err != nil || !found {
		return err
	}
	s.conflict(Conflict{Kind: DataLoss, Step: i, Model: m.Name, Field: f.Name, Relation: r.Name,
		Message: fmt.Sprintf("deleting relation %s removes its existing links", r.Name)})
	return nil
}

func (s *screener) screenUpdateField(ctx context.Context, i int, step diff.Step) error {
	nm, nf, ok := s.nextField(step.Model, step.Field)
	if !ok {
		return nil
	}
	pm, pf, ok := s.prevField(nm.Name, nf.Name)
	if !ok {
		return nil
	}
	table, column := mapping.TableName(pm), mapping.ColumnName(pf)

	if step.Has(diff.ChangeType) {
		found, err := s.probes.ExistsByModel(ctx, table)
		if err != nil || !found {
			return err
		}
		s.conflict(Conflict{Kind: TypeChange, Step: i, Model: nm.Name, Field: nf.Name,
			Message: fmt.Sprintf("changing the type of %s.%s from %s to %s discards its existing values", nm.Name, nf.Name, pf.Type, nf.Type)})
		return nil
	}
	if step.Has(diff.ChangeRequired) && nf.Required {
		found, err := s.probes.ExistsNullByModelAndField(ctx, table, column)
		if err != nil {
			return err
		}
		if found {
			s.conflict(Conflict{Kind: NullValues, Step: i, Model: nm.Name, Field: nf.Name,
				Message: fmt.Sprintf("field %s.%s becomes required but existing rows hold null", nm.Name, nf.Name)})
		}
	}
	if step.Has(diff.ChangeUnique) && nf.Unique {
		found, err := s.probes.ExistsDuplicateValueByModelAndField(ctx, table, column)
		if err != nil {
			return err
		}
		if found {
			s.conflict(Conflict{Kind: DuplicateValues, Step: i, Model: nm.Name, Field: nf.Name,
				Message: fmt.Sprintf("field %s.%s becomes unique but existing rows hold duplicate values", nm.Name, nf.Name)})
		}
	}
	return nil
}

func (s *screener) screenUpdateRelation(ctx context.Context, i int, step diff.Step) error {
	if !step.Has(diff.ChangeList) {
		return nil
	}
	next, ok := s.next.Relation(step.Relation)
	if !ok {
		return nil
	}
	prevName, _ := s.match.PrevRelation(next.Name)
	prev, ok := s.prev.Relation(prevName)
	if !ok {
		return nil
	}
	link := mapping.RelationLink(s.prev, prev)
	for _, side := range prev.Sides() {
		_, pf, _ := s.sideField(s.prev, side)
		nextSide, ok := s.match.NextSide(side)
		if !ok {
			continue
		}
		_, nf, _ := s.sideField(s.next, nextSide)
		if !pf.List || nf.List {
			continue
		}
		found, err := s.probes.ExistsDuplicateByRelationAndSide(ctx, link, side)
		if err != nil {
			return err
		}
		if found {
			s.conflict(Conflict{Kind: DuplicateRelation, Step: i, Model: nextSide.Model, Field: nextSide.Field, Relation: next.Name,
				Message: fmt.Sprintf("field %s.%s becomes to-one but existing rows link to several %s rows",
					nextSide.Model, nextSide.Field, next.Other(nextSide).Model)})
		}
	}
	return nil
}

func (s *screener) screenUpdateEnum(ctx context.Context, i int, step diff.Step) error {
	if len(step.RemovedValues) == 0 {
		return nil
	}
	prevName := step.Enum
	if step.OldName != "" {
		prevName = step.OldName
	}
	for _, m := range s.prev.Models {
		for _, f := range m.Fields {
			if f.Type != schema.TypeEnum || f.Enum != prevName {
				continue
			}
			for _, v := range step.RemovedValues {
				found, err := s.probes.EnumValueIsInUse(ctx, mapping.TableName(m), mapping.ColumnName(f), v)
				if err != nil {
					return err
				}
				if found {
					s.conflict(Conflict{Kind: EnumValueInUse, Step: i, Model: m.Name, Field: f.Name, Enum: step.Enum,
						Message: fmt.Sprintf("value %s of enum %s is still used by %s.%s", v, step.Enum, m.Name, f.Name)})
				}
			}
		}
	}
	return nil
}

func (s *screener) nextField(model, field string) (schema.Model, schema.Field, bool) {
	m, ok := s.next.Model(model)
	if !ok {
		return schema.Model{}, schema.Field{}, false
	}
	f, ok := m.Field(field)
	return m, f, ok
}

// prevField resolves the current definition of a desired model field.
func (s *screener) prevField(model, field string) (schema.Model, schema.Field, bool) {
	pmName, ok := s.match.PrevModel(model)
	if !ok {
		return schema.Model{}, schema.Field{}, false
	}
	pfName, ok := s.match.PrevField(model, field)
	if !ok {
		return schema.Model{}, schema.Field{}, false
	}
	pm, _ := s.prev.Model(pmName)
	pf, ok := pm.Field(pfName)
	return pm, pf, ok
}

func (s *screener) sideField(sc schema.Schema, side schema.RelationSide) (schema.Model, schema.Field, bool) {
	m, ok := sc.Model(side.Model)
	if !ok {
		return schema.Model{}, schema.Field{}, false
	}
	f, ok := m.Field(side.Field)
	return m, f, ok
}
