package generator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// SQLite renders the steps for SQLite. Field level changes to an existing
// table are applied by rebuilding it into its desired shape, once, at the
// last step touching it. The plan must run with foreign keys disabled.
func SQLite(prev, next schema.Schema, steps []diff.Step) (Plan, error) {
	p, err := newPlanner(DialectSQLite, "", prev, next)
	if err != nil {
		return Plan{}, err
	}
	rebuildAt := p.rebuildPositions(steps)

	plan := Plan{Dialect: DialectSQLite}
	for i, step := range steps {
		stmts, err := p.sqliteStep(step, rebuildAt)
		if err != nil {
			return Plan{}, fmt.Errorf("generate %s: %w", step, err)
		}
		for _, m := range next.Models {
			if pos, ok := rebuildAt[m.Name]; ok && pos == i {
				stmts = append(stmts, p.rebuild(m)...)
			}
		}
		plan.Steps = append(plan.Steps, StepSQL{Index: i, Step: step, Statements: stmts})
	}
	return plan, nil
}

// rebuildPositions maps each existing model needing a rebuild to the index
// of the step after which it is rebuilt. A renamed model is never rebuilt
// before its rename.
func (p *planner) rebuildPositions(steps []diff.Step) map[string]int {
	positions := map[string]int{}
	renamedAt := map[string]int{}
	touch := func(model string, i int) {
		if _, existed := p.match.PrevModel(model); !existed {
			return
		}
		positions[model] = i
	}

	for i, step := range steps {
		switch step.Type {
		case diff.UpdateModel:
			renamedAt[step.Model] = i
		case diff.DeleteField:
			pm, ok := p.prev.Model(step.Model)
			if !ok {
				continue
			}
			f, ok := pm.Field(step.Field)
			if !ok {
				continue
			}
			if f.IsRelation() {
				if _, hosted := hostedRelation(p.prev, pm.Name, f); !hosted {
					continue
				}
			}
			if next, survives := p.match.NextModel(pm.Name); survives {
				touch(next, i)
			}
		case diff.CreateField:
			m, ok := p.next.Model(step.Model)
			if !ok {
				continue
			}
			f, ok := m.Field(step.Field)
			if !ok {
				continue
			}
			if f.IsRelation() {
				if _, hosted := hostedRelation(p.next, m.Name, f); !hosted {
					continue
				}
			}
			touch(m.Name, i)
		case diff.UpdateField:
			touch(step.Model, i)
		case diff.UpdateRelation:
			next, ok := p.next.Relation(step.Relation)
			if !ok || next.Link.Strategy != schema.LinkInline || next.Link.Host == nil {
				continue
			}
			prevName, _ := p.match.PrevRelation(next.Name)
			prev, ok := p.prev.Relation(prevName)
			if ok && mapping.InlineColumnName(prev) != mapping.InlineColumnName(next) {
				touch(next.Link.Host.Model, i)
			}
		}
	}

	for model, i := range positions {
		if at, renamed := renamedAt[model]; renamed && at > i {
			positions[model] = at
		}
	}
	return positions
}

func (p *planner) sqliteStep(step diff.Step, rebuildAt map[string]int) ([]string, error) {
	switch step.Type {
	case diff.CreateEnum, diff.UpdateEnum, diff.DeleteEnum:
		return nil, nil

	case diff.CreateModel:
		m, ok := p.next.Model(step.Model)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.Model)
		}
		return p.createTable(m, true), nil

	case diff.DeleteModel:
		m, ok := p.prev.Model(step.Model)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.Model)
		}
		return []string{fmt.Sprintf("DROP TABLE %s", p.table(mapping.TableName(m)))}, nil

	case diff.UpdateModel:
		prev, ok := p.prev.Model(step.OldName)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.OldName)
		}
		next, ok := p.next.Model(step.Model)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.Model)
		}
		stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			p.table(mapping.TableName(prev)), mapping.Quote(mapping.TableName(next)))}
		if _, rebuilt := rebuildAt[next.Name]; rebuilt {
			return stmts, nil
		}
		// Index names follow the table name.
		for _, f := range prev.ScalarFields() {
			if f.Unique {
				stmts = append(stmts, fmt.Sprintf("DROP INDEX %s",
					p.index(mapping.UniqueIndexName(mapping.TableName(prev), mapping.ColumnName(f)))))
			}
		}
		return append(stmts, p.uniqueIndexes(next)...), nil

	case diff.CreateField, diff.DeleteField, diff.UpdateField:
		return nil, nil

	case diff.CreateRelationTable:
		r, ok := p.next.Relation(step.Relation)
		if !ok {
			return nil, fmt.Errorf("unknown relation %s", step.Relation)
		}
		return p.createJoinTable(r), nil

	case diff.DeleteRelationTable:
		r, ok := p.prev.Relation(step.Relation)
		if !ok {
			return nil, fmt.Errorf("unknown relation %s", step.Relation)
		}
		return []string{fmt.Sprintf("DROP TABLE %s", p.table(mapping.JoinTableName(r)))}, nil

	case diff.UpdateRelation:
		prev, next, err := p.relationPair(step)
		if err != nil {
			return nil, err
		}
		if next.Link.Strategy != schema.LinkTable {
			return nil, nil
		}
		oldTable, newTable := mapping.JoinTableName(prev), mapping.JoinTableName(next)
		if oldTable == newTable {
			return nil, nil
		}
		return []string{
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.table(oldTable), mapping.Quote(newTable)),
			fmt.Sprintf("DROP INDEX %s", p.index(mapping.PairIndexName(oldTable))),
			fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s, %s)",
				mapping.Quote(mapping.PairIndexName(newTable)), p.table(newTable),
				mapping.Quote(mapping.JoinColumnA), mapping.Quote(mapping.JoinColumnB)),
		}, nil
	}
	return nil, fmt.Errorf("unsupported step: %s", step.Type)
}

// rebuild copies an existing table into its desired shape. Kept columns are
// copied, required ones backfilled, new or retyped columns start empty.
func (p *planner) rebuild(m schema.Model) []string {
	table := mapping.TableName(m)
	tmp := "_new_" + table

	pmName, _ := p.match.PrevModel(m.Name)
	pm, _ := p.prev.Model(pmName)

	cols := []string{mapping.Quote(schema.IDColumn)}
	exprs := []string{mapping.Quote(schema.IDColumn)}
	for _, f := range m.Fields {
		if !f.IsRelation() {
			cols = append(cols, mapping.Quote(mapping.ColumnName(f)))
			exprs = append(exprs, p.copyExpr(m, pm, f))
			continue
		}
		r, ok := hostedRelation(p.next, m.Name, f)
		if !ok {
			continue
		}
		cols = append(cols, mapping.Quote(mapping.InlineColumnName(r)))
		expr := "NULL"
		if prevName, kept := p.match.PrevRelation(r.Name); kept {
			if pr, ok := p.prev.Relation(prevName); ok && pr.Link.Strategy == schema.LinkInline {
				expr = mapping.Quote(mapping.InlineColumnName(pr))
			}
		}
		exprs = append(exprs, expr)
	}

	stmts := []string{
		p.createTableAs(m, tmp, true),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			p.table(tmp), strings.Join(cols, ", "), strings.Join(exprs, ", "), p.table(table)),
		fmt.Sprintf("DROP TABLE %s", p.table(table)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.table(tmp), mapping.Quote(table)),
	}
	return append(stmts, p.uniqueIndexes(m)...)
}

func (p *planner) copyExpr(m, pm schema.Model, f schema.Field) string {
	src := ""
	if pfName, ok := p.match.PrevField(m.Name, f.Name); ok {
		if pf, ok := pm.Field(pfName); ok && p.match.SameType(pf, f) {
			src = mapping.Quote(mapping.ColumnName(pf))
		}
	}
	switch {
	case src == "" && f.Required:
		return p.backfill(f)
	case src == "":
		return "NULL"
	case f.Required:
		return fmt.Sprintf("COALESCE(%s, %s)", src, p.backfill(f))
	}
	return src
}
