package validator

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// Probes answer targeted questions about the live data of a project. Every
// name passed in is a physical table or column name.
type Probes interface {
	ExistsByModel(ctx context.Context, table string) (bool, error)
	ExistsByRelation(ctx context.Context, link mapping.Link) (bool, error)
	// ExistsDuplicateByRelationAndSide reports whether a row of the side's
	// model is linked to more than one row on the other side.
	ExistsDuplicateByRelationAndSide(ctx context.Context, link mapping.Link, side schema.RelationSide) (bool, error)
	ExistsNullByModelAndField(ctx context.Context, table, column string) (bool, error)
	ExistsDuplicateValueByModelAndField(ctx context.Context, table, column string) (bool, error)
	EnumValueIsInUse(ctx context.Context, table, column, value string) (bool, error)
}

// Noop answers false to every probe. It is meant for projects without data.
type Noop struct{}

var _ Probes = Noop{}

func (Noop) ExistsByModel(context.Context, string) (bool, error) { return false, nil }

func (Noop) ExistsByRelation(context.Context, mapping.Link) (bool, error) { return false, nil }

func (Noop) ExistsDuplicateByRelationAndSide(context.Context, mapping.Link, schema.RelationSide) (bool, error) {
	return false, nil
}

func (Noop) ExistsNullByModelAndField(context.Context, string, string) (bool, error) { return false, nil }

func (Noop) ExistsDuplicateValueByModelAndField(context.Context, string, string) (bool, error) {
	return false, nil
}

func (Noop) EnumValueIsInUse(context.Context, string, string, string) (bool, error) { return false, nil }

// ExistsQuerier runs a query and reports whether it returned at least one row.
type ExistsQuerier interface {
	QueryExists(ctx context.Context, query string, args ...any) (bool, error)
}

// SQLProbes answers probes with SQL against the tables of one schema.
type SQLProbes struct {
	querier    ExistsQuerier
	sb         squirrel.StatementBuilderType
	schemaName string
}

var _ Probes = (*SQLProbes)(nil)

// NewSQLProbes creates probes over the tables of schemaName, which is empty
// for backends without schemas.
func NewSQLProbes(querier ExistsQuerier, format squirrel.PlaceholderFormat, schemaName string) *SQLProbes {
	return &SQLProbes{
		querier:    querier,
		sb:         squirrel.StatementBuilder.PlaceholderFormat(format),
		schemaName: schemaName,
	}
}

func (p *SQLProbes) table(name string) string {
	return mapping.Qualify(p.schemaName, name)
}

func (p *SQLProbes) exists(ctx context.Context, query squirrel.SelectBuilder) (bool, error) {
	sql, args, err := query.Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building probe: %w", err)
	}
	found, err := p.querier.QueryExists(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("running probe %q: %w", sql, err)
	}
	return found, nil
}

func (p *SQLProbes) ExistsByModel(ctx context.Context, table string) (bool, error) {
	return p.exists(ctx, p.sb.Select("1").From(p.table(table)))
}

func (p *SQLProbes) ExistsByRelation(ctx context.Context, link mapping.Link) (bool, error) {
	query := p.sb.Select("1").From(p.table(link.Table))
	if link.Inline {
		query = query.Where(squirrel.NotEq{mapping.Quote(link.Column): nil})
	}
	return p.exists(ctx, query)
}

func (p *SQLProbes) ExistsDuplicateByRelationAndSide(ctx context.Context, link mapping.Link, side schema.RelationSide) (bool, error) {
	column, ok := link.SideColumn(side)
	if !ok {
		return false, nil
	}
	return p.duplicates(ctx, link.Table, column)
}

func (p *SQLProbes) ExistsNullByModelAndField(ctx context.Context, table, column string) (bool, error) {
	return p.exists(ctx, p.sb.Select("1").From(p.table(table)).
		Where(squirrel.Eq{mapping.Quote(column): nil}))
}

func (p *SQLProbes) ExistsDuplicateValueByModelAndField(ctx context.Context, table, column string) (bool, error) {
	return p.duplicates(ctx, table, column)
}

func (p *SQLProbes) EnumValueIsInUse(ctx context.Context, table, column, value string) (bool, error) {
	return p.exists(ctx, p.sb.Select("1").From(p.table(table)).
		Where(squirrel.Eq{mapping.Quote(column): value}))
}

func (p *SQLProbes) duplicates(ctx context.Context, table, column string) (bool, error) {
	col := mapping.Quote(column)
	return p.exists(ctx, p.sb.Select("1").From(p.table(table)).
		Where(squirrel.NotEq{col: nil}).
		GroupBy(col).
		Having("COUNT(*) > 1"))
}
