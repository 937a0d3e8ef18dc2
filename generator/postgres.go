package generator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// Postgres renders the steps as PostgreSQL DDL inside schemaName. Every
// step maps to its own statements so a failure names the step.
func Postgres(schemaName string, prev, next schema.Schema, steps []diff.Step) (Plan, error) {
	p, err := newPlanner(DialectPostgres, schemaName, prev, next)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Dialect: DialectPostgres}
	for i, step := range steps {
		stmts, err := p.postgresStep(step)
		if err != nil {
			return Plan{}, fmt.Errorf("generate %s: %w", step, err)
		}
		plan.Steps = append(plan.Steps, StepSQL{Index: i, Step: step, Statements: stmts})
	}
	return plan, nil
}

func (p *planner) postgresStep(step diff.Step) ([]string, error) {
	switch step.Type {
	case diff.CreateEnum, diff.UpdateEnum, diff.DeleteEnum:
		return nil, nil

	case diff.CreateModel:
		m, ok := p.next.Model(step.Model)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.Model)
		}
		return p.createTable(m, false), nil

	case diff.DeleteModel:
		m, ok := p.prev.Model(step.Model)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", step.Model)
		}
		return []string{fmt.Sprintf("DROP TABLE %s", p.table(mapping.TableName(m)))}, nil

	case diff.UpdateModel:
		return p.renameModel(step)

	case diff.CreateField:
		return p.postgresCreateField(step)

	case diff.DeleteField:
		return p.postgresDeleteField(step)

	case diff.UpdateField:
		return p.postgresUpdateField(step)

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
		return p.postgresUpdateRelation(step)
	}
	return nil, fmt.Errorf("unsupported step: %s", step.Type)
}

// createTable renders a model table. Foreign key columns are only included
// when withForeignKeys is set; otherwise relation steps add them once every
// referenced table exists.
func (p *planner) createTable(m schema.Model, withForeignKeys bool) []string {
	stmts := []string{p.createTableAs(m, mapping.TableName(m), withForeignKeys)}
	return append(stmts, p.uniqueIndexes(m)...)
}

func (p *planner) createTableAs(m schema.Model, name string, withForeignKeys bool) string {
	defs := []string{p.idDefinition(m)}
	for _, f := range m.Fields {
		if !f.IsRelation() {
			defs = append(defs, p.columnDefinition(f))
			continue
		}
		if withForeignKeys {
			if r, ok := hostedRelation(p.next, m.Name, f); ok {
				defs = append(defs, p.foreignKeyDefinition(p.next, r))
			}
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", p.table(name), strings.Join(defs, ",\n  "))
}

func (p *planner) uniqueIndexes(m schema.Model) []string {
	var stmts []string
	for _, f := range m.ScalarFields() {
		if f.Unique {
			stmts = append(stmts, p.createUniqueIndex(mapping.TableName(m), mapping.ColumnName(f)))
		}
	}
	return stmts
}

func (p *planner) renameModel(step diff.Step) ([]string, error) {
	prev, ok := p.prev.Model(step.OldName)
	if !ok {
		return nil, fmt.Errorf("unknown model %s", step.OldName)
	}
	next, ok := p.next.Model(step.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %s", step.Model)
	}
	oldTable, newTable := mapping.TableName(prev), mapping.TableName(next)
	stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.table(oldTable), mapping.Quote(newTable))}
	for _, f := range prev.ScalarFields() {
		if !f.Unique {
			continue
		}
		if _, _, kept := p.match.NextField(prev.Name, f.Name); !kept {
			continue
		}
		col := mapping.ColumnName(f)
		stmts = append(stmts, fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
			p.index(mapping.UniqueIndexName(oldTable, col)), mapping.Quote(mapping.UniqueIndexName(newTable, col))))
	}
	return stmts, nil
}

func (p *planner) postgresCreateField(step diff.Step) ([]string, error) {
	m, ok := p.next.Model(step.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %s", step.Model)
	}
	f, ok := m.Field(step.Field)
	if !ok {
		return nil, fmt.Errorf("unknown field %s.%s", step.Model, step.Field)
	}
	table := mapping.TableName(m)
	if f.IsRelation() {
		r, ok := hostedRelation(p.next, m.Name, f)
		if !ok {
			return nil, nil
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", p.table(table), p.foreignKeyDefinition(p.next, r))}, nil
	}
	return p.addColumn(table, f), nil
}

// addColumn adds a scalar column. Required columns are filled with the
// backfill value through a temporary default.
func (p *planner) addColumn(table string, f schema.Field) []string {
	col := mapping.Quote(mapping.ColumnName(f))
	var stmts []string
	if f.Required && f.Default == nil {
		stmts = append(stmts,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NOT NULL DEFAULT %s", p.table(table), col, p.typeName(f.Type), p.backfill(f)),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", p.table(table), col))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", p.table(table), p.columnDefinition(f)))
	}
	if f.Unique {
		stmts = append(stmts, p.createUniqueIndex(table, mapping.ColumnName(f)))
	}
	return stmts
}

func (p *planner) postgresDeleteField(step diff.Step) ([]string, error) {
	m, ok := p.prev.Model(step.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %s", step.Model)
	}
	f, ok := m.Field(step.Field)
	if !ok {
		return nil, fmt.Errorf("unknown field %s.%s", step.Model, step.Field)
	}
	table := p.table(mapping.TableName(m))
	if !f.IsRelation() {
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, mapping.Quote(mapping.ColumnName(f)))}, nil
	}
	r, ok := hostedRelation(p.prev, m.Name, f)
	if !ok {
		return nil, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, mapping.Quote(mapping.InlineColumnName(r)))}, nil
}

func (p *planner) fieldPair(step diff.Step) (schema.Model, schema.Field, schema.Field, error) {
	m, ok := p.next.Model(step.Model)
	if !ok {
		return schema.Model{}, schema.Field{}, schema.Field{}, fmt.Errorf("unknown model %s", step.Model)
	}
	nf, ok := m.Field(step.Field)
	if !ok {
		return schema.Model{}, schema.Field{}, schema.Field{}, fmt.Errorf("unknown field %s.%s", step.Model, step.Field)
	}
	pmName, _ := p.match.PrevModel(m.Name)
	pfName, _ := p.match.PrevField(m.Name, nf.Name)
	pm, _ := p.prev.Model(pmName)
	pf, ok := pm.Field(pfName)
	if !ok {
		return schema.Model{}, schema.Field{}, schema.Field{}, fmt.Errorf("field %s.%s has no current definition", step.Model, step.Field)
	}
	return m, pf, nf, nil
}

func (p *planner) postgresUpdateField(step diff.Step) ([]string, error) {
	m, pf, nf, err := p.fieldPair(step)
	if err != nil {
		return nil, err
	}
	table := mapping.TableName(m)
	qt := p.table(table)
	oldCol, newCol := mapping.ColumnName(pf), mapping.ColumnName(nf)

	// A type change drops the values; the column is recreated.
	if step.Has(diff.ChangeType) {
		stmts := []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qt, mapping.Quote(oldCol))}
		return append(stmts, p.addColumn(table, nf)...), nil
	}

	var stmts []string
	if pf.Unique && !nf.Unique {
		stmts = append(stmts, fmt.Sprintf("DROP INDEX %s", p.index(mapping.UniqueIndexName(table, oldCol))))
	}
	if oldCol != newCol {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", qt, mapping.Quote(oldCol), mapping.Quote(newCol)))
		if pf.Unique && nf.Unique {
			stmts = append(stmts, fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
				p.index(mapping.UniqueIndexName(table, oldCol)), mapping.Quote(mapping.UniqueIndexName(table, newCol))))
		}
	}
	col := mapping.Quote(newCol)
	if step.Has(diff.ChangeDefault) {
		if nf.Default != nil {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", qt, col, p.literal(nf.Type, *nf.Default)))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", qt, col))
		}
	}
	if step.Has(diff.ChangeRequired) {
		if nf.Required {
			stmts = append(stmts,
				fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", qt, col, p.backfill(nf), col),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", qt, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", qt, col))
		}
	}
	if nf.Unique && !pf.Unique {
		stmts = append(stmts, p.createUniqueIndex(table, newCol))
	}
	return stmts, nil
}

func (p *planner) relationPair(step diff.Step) (schema.Relation, schema.Relation, error) {
	next, ok := p.next.Relation(step.Relation)
	if !ok {
		return schema.Relation{}, schema.Relation{}, fmt.Errorf("unknown relation %s", step.Relation)
	}
	prevName, _ := p.match.PrevRelation(next.Name)
	prev, ok := p.prev.Relation(prevName)
	if !ok {
		return schema.Relation{}, schema.Relation{}, fmt.Errorf("relation %s has no current definition", step.Relation)
	}
	return prev, next, nil
}

func (p *planner) postgresUpdateRelation(step diff.Step) ([]string, error) {
	prev, next, err := p.relationPair(step)
	if err != nil {
		return nil, err
	}
	if next.Link.Strategy == schema.LinkTable {
		oldTable, newTable := mapping.JoinTableName(prev), mapping.JoinTableName(next)
		if oldTable == newTable {
			return nil, nil
		}
		return []string{
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.table(oldTable), mapping.Quote(newTable)),
			fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
				p.index(mapping.PairIndexName(oldTable)), mapping.Quote(mapping.PairIndexName(newTable))),
		}, nil
	}
	oldCol, newCol := mapping.InlineColumnName(prev), mapping.InlineColumnName(next)
	if oldCol == newCol {
		return nil, nil
	}
	host, _ := p.next.Model(next.Link.Host.Model)
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		p.table(mapping.TableName(host)), mapping.Quote(oldCol), mapping.Quote(newCol))}, nil
}
