package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/mapping"
	"github.com/ridoystarlord/schemadeploy/schema"
)

// fakeProbes answers from fixed sets of tables and columns.
type fakeProbes struct {
	rows       map[string]bool // tables with rows
	links      map[string]bool // relations with links
	dupLinks   map[string]bool // "relation.model.field"
	nulls      map[string]bool // "table.column"
	duplicates map[string]bool // "table.column"
	enumValues map[string]bool // "table.column=value"
	err        error
}

func (f *fakeProbes) ExistsByModel(_ context.Context, table string) (bool, error) {
	return f.rows[table], f.err
}

func (f *fakeProbes) ExistsByRelation(_ context.Context, link mapping.Link) (bool, error) {
	return f.links[link.Relation], f.err
}

func (f *fakeProbes) ExistsDuplicateByRelationAndSide(_ context.Context, link mapping.Link, side schema.RelationSide) (bool, error) {
	return f.dupLinks[link.Relation+"."+side.Model+"."+side.Field], f.err
}

func (f *fakeProbes) ExistsNullByModelAndField(_ context.Context, table, column string) (bool, error) {
	return f.nulls[table+"."+column], f.err
}

func (f *fakeProbes) ExistsDuplicateValueByModelAndField(_ context.Context, table, column string) (bool, error) {
	return f.duplicates[table+"."+column], f.err
}

func (f *fakeProbes) EnumValueIsInUse(_ context.Context, table, column, value string) (bool, error) {
	return f.enumValues[table+"."+column+"="+value], f.err
}

var allCaps = schema.NewCapabilitySet(schema.KnownCapabilities()...)

func team() schema.Schema {
	return schema.Schema{
		Enums: []schema.Enum{{Name: "Role", Values: []string{"ADMIN", "MEMBER"}}},
		Models: []schema.Model{
			{Name: "User", Fields: []schema.Field{
				{Name: "email", Type: schema.TypeString},
				{Name: "role", Type: schema.TypeEnum, Enum: "Role"},
				{Name: "age", Type: schema.TypeString},
				{Name: "teams", Type: schema.TypeRelation, Relation: "Membership", List: true},
			}},
			{Name: "Team", Fields: []schema.Field{
				{Name: "members", Type: schema.TypeRelation, Relation: "Membership", List: true},
			}},
		},
		Relations: []schema.Relation{{
			Name: "Membership",
			A:    schema.RelationSide{Model: "User", Field: "teams"},
			B:    schema.RelationSide{Model: "Team", Field: "members"},
			Link: schema.Link{Strategy: schema.LinkTable},
		}},
	}
}

func screen(t *testing.T, probes Probes, prev, next schema.Schema) Conflicts {
	t.Helper()
	steps, err := diff.Infer(prev, next, allCaps)
	require.NoError(t, err)
	conflicts, err := Screen(context.Background(), probes, steps, prev, next)
	require.NoError(t, err)
	return conflicts
}

func kinds(cs Conflicts) []ConflictKind {
	out := make([]ConflictKind, len(cs))
	for i, c := range cs {
		out[i] = c.Kind
	}
	return out
}

func TestScreenEmptyDataHasNoConflicts(t *testing.T) {
	assert.Empty(t, screen(t, Noop{}, team(), schema.Schema{}))
}

func TestScreenFieldChanges(t *testing.T) {
	next := team()
	user := &next.Models[0]
	user.Fields[0].Required = true
	user.Fields[0].Unique = true
	user.Fields[2].Type = schema.TypeInt
	user.Fields = append(user.Fields, schema.Field{Name: "nick", Type: schema.TypeString, Required: true})

	probes := &fakeProbes{
		rows:       map[string]bool{"User": true},
		nulls:      map[string]bool{"User.email": true},
		duplicates: map[string]bool{"User.email": true},
	}
	conflicts := screen(t, probes, team(), next)
	assert.Equal(t, []ConflictKind{NullValues, DuplicateValues, TypeChange, RequiredNoValue}, kinds(conflicts))
	assert.Equal(t, "email", conflicts[0].Field)
	assert.Equal(t, "age", conflicts[2].Field)
	assert.Equal(t, "nick", conflicts[3].Field)

	// a default fills the new required column
	next.Models[0].Fields[4].Default = ptr("anon")
	conflicts = screen(t, probes, team(), next)
	assert.NotContains(t, kinds(conflicts), RequiredNoValue)
}

func TestScreenDeletes(t *testing.T) {
	next := team()
	next.Models = next.Models[:1]
	next.Models[0].Fields = next.Models[0].Fields[:2]
	next.Relations = nil

	probes := &fakeProbes{
		rows:  map[string]bool{"User": true, "Team": true},
		links: map[string]bool{"Membership": true},
	}
	conflicts := screen(t, probes, team(), next)
	assert.Equal(t, []ConflictKind{DataLoss, DataLoss, DataLoss}, kinds(conflicts))
	assert.Equal(t, "Membership", conflicts[0].Relation)
	assert.Equal(t, "age", conflicts[1].Field)
	assert.Equal(t, "Team", conflicts[2].Model)
	assert.Contains(t, conflicts.Error(), "DataConflict: DataLoss (step 1)")

	assert.Empty(t, screen(t, &fakeProbes{}, team(), next))
}

func TestScreenEnumValueInUse(t *testing.T) {
	next := team()
	next.Enums[0].Values = []string{"ADMIN"}
	probes := &fakeProbes{enumValues: map[string]bool{"User.role=MEMBER": true}}
	conflicts := screen(t, probes, team(), next)
	require.Len(t, conflicts, 1)
	assert.Equal(t, EnumValueInUse, conflicts[0].Kind)
	assert.Equal(t, "Role", conflicts[0].Enum)
	assert.Equal(t, "role", conflicts[0].Field)
}

func TestScreenRelationBecomesToOne(t *testing.T) {
	next := team()
	next.Models[0].Fields[3].List = false
	probes := &fakeProbes{dupLinks: map[string]bool{"Membership.User.teams": true}}
	conflicts := screen(t, probes, team(), next)
	require.Len(t, conflicts, 1)
	assert.Equal(t, DuplicateRelation, conflicts[0].Kind)
	assert.Equal(t, "teams", conflicts[0].Field)
}

func TestScreenProbeFailure(t *testing.T) {
	boom := errors.New("boom")
	steps := []diff.Step{{Type: diff.DeleteModel, Model: "Team"}}
	_, err := Screen(context.Background(), &fakeProbes{err: boom}, steps, team(), schema.Schema{})
	assert.ErrorIs(t, err, boom)
}

type recordingQuerier struct {
	queries []string
	args    [][]any
}

func (r *recordingQuerier) QueryExists(_ context.Context, query string, args ...any) (bool, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return true, nil
}

func TestSQLProbes(t *testing.T) {
	q := &recordingQuerier{}
	p := NewSQLProbes(q, squirrel.Dollar, "p1")
	ctx := context.Background()

	_, err := p.ExistsByModel(ctx, "User")
	require.NoError(t, err)
	_, err = p.ExistsNullByModelAndField(ctx, "User", "email")
	require.NoError(t, err)
	_, err = p.ExistsDuplicateValueByModelAndField(ctx, "User", "email")
	require.NoError(t, err)
	_, err = p.EnumValueIsInUse(ctx, "User", "role", "MEMBER")
	require.NoError(t, err)
	_, err = p.ExistsByRelation(ctx, mapping.Link{Inline: true, Table: "Post", Column: "author"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`SELECT 1 FROM "p1"."User" LIMIT 1`,
		`SELECT 1 FROM "p1"."User" WHERE "email" IS NULL LIMIT 1`,
		`SELECT 1 FROM "p1"."User" WHERE "email" IS NOT NULL GROUP BY "email" HAVING COUNT(*) > 1 LIMIT 1`,
		`SELECT 1 FROM "p1"."User" WHERE "role" = $1 LIMIT 1`,
		`SELECT 1 FROM "p1"."Post" WHERE "author" IS NOT NULL LIMIT 1`,
	}, q.queries)
	assert.Equal(t, []any{"MEMBER"}, q.args[3])

	// the host side of an inline link cannot hold duplicates
	found, err := p.ExistsDuplicateByRelationAndSide(ctx,
		mapping.Link{Inline: true, Table: "Post", Column: "author",
			Host:   schema.RelationSide{Model: "Post", Field: "author"},
			Target: schema.RelationSide{Model: "User", Field: "posts"}},
		schema.RelationSide{Model: "Post", Field: "author"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, q.queries, 5)
}

func ptr(s string) *string { return &s }
