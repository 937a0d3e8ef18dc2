package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/schema"
)

var allCaps = schema.NewCapabilitySet(schema.KnownCapabilities()...)

func ptr(s string) *string { return &s }

func users(fields ...schema.Field) schema.Schema {
	return schema.Schema{Models: []schema.Model{{Name: "User", Fields: fields}}}
}

func plan(t *testing.T, d Dialect, prev, next schema.Schema) Plan {
	t.Helper()
	steps, err := diff.Infer(prev, next, allCaps)
	require.NoError(t, err)
	p, err := For(d, "p1", prev, next, steps)
	require.NoError(t, err)
	return p
}

func TestPostgresCreateModel(t *testing.T) {
	next := users(schema.Field{Name: "email", Type: schema.TypeString, Required: true, Unique: true})
	p := plan(t, DialectPostgres, schema.Schema{}, next)
	assert.Equal(t, []string{
		"CREATE TABLE \"p1\".\"User\" (\n  \"id\" text NOT NULL PRIMARY KEY,\n  \"email\" text NOT NULL\n)",
		`CREATE UNIQUE INDEX "User.email._UNIQUE" ON "p1"."User" ("email")`,
	}, p.Statements())
}

func TestPostgresInlineRelation(t *testing.T) {
	prev := schema.Schema{Models: []schema.Model{{Name: "User"}, {Name: "Post", IDType: schema.IDInt}}}
	next := schema.Schema{
		Models: []schema.Model{
			{Name: "User", Fields: []schema.Field{{Name: "posts", Type: schema.TypeRelation, Relation: "Authorship", List: true}}},
			{Name: "Post", IDType: schema.IDInt, Fields: []schema.Field{{Name: "author", Type: schema.TypeRelation, Relation: "Authorship"}}},
		},
		Relations: []schema.Relation{{
			Name: "Authorship",
			A:    schema.RelationSide{Model: "Post", Field: "author"},
			B:    schema.RelationSide{Model: "User", Field: "posts"},
			Link: schema.Link{Strategy: schema.LinkInline, Host: &schema.RelationSide{Model: "Post", Field: "author"}},
		}},
	}
	p := plan(t, DialectPostgres, prev, next)
	assert.Equal(t, []string{
		`ALTER TABLE "p1"."Post" ADD COLUMN "author" text REFERENCES "p1"."User" ("id") ON DELETE SET NULL`,
	}, p.Statements())
	require.Len(t, p.Steps, 2)
	assert.Empty(t, p.Steps[1].Statements, "the list side has no column")
}

func TestPostgresAddRequiredColumn(t *testing.T) {
	prev := users(schema.Field{Name: "email", Type: schema.TypeString})
	next := users(
		schema.Field{Name: "email", Type: schema.TypeString},
		schema.Field{Name: "age", Type: schema.TypeInt, Required: true},
		schema.Field{Name: "active", Type: schema.TypeBoolean, Default: ptr("true")},
	)
	p := plan(t, DialectPostgres, prev, next)
	assert.Equal(t, []string{
		`ALTER TABLE "p1"."User" ADD COLUMN "age" integer NOT NULL DEFAULT 0`,
		`ALTER TABLE "p1"."User" ALTER COLUMN "age" DROP DEFAULT`,
		`ALTER TABLE "p1"."User" ADD COLUMN "active" boolean DEFAULT TRUE`,
	}, p.Statements())
}

func TestPostgresUpdateField(t *testing.T) {
	prev := users(schema.Field{Name: "email", Type: schema.TypeString, Unique: true})
	next := users(schema.Field{Name: "mail", OldName: "email", Type: schema.TypeString, Unique: true, Required: true})
	p := plan(t, DialectPostgres, prev, next)
	assert.Equal(t, []string{
		`ALTER TABLE "p1"."User" RENAME COLUMN "email" TO "mail"`,
		`ALTER INDEX "p1"."User.email._UNIQUE" RENAME TO "User.mail._UNIQUE"`,
		`UPDATE "p1"."User" SET "mail" = '' WHERE "mail" IS NULL`,
		`ALTER TABLE "p1"."User" ALTER COLUMN "mail" SET NOT NULL`,
	}, p.Statements())

	retyped := users(schema.Field{Name: "email", Type: schema.TypeInt, Unique: true})
	p = plan(t, DialectPostgres, prev, retyped)
	assert.Equal(t, []string{
		`ALTER TABLE "p1"."User" DROP COLUMN "email"`,
		`ALTER TABLE "p1"."User" ADD COLUMN "email" integer`,
		`CREATE UNIQUE INDEX "User.email._UNIQUE" ON "p1"."User" ("email")`,
	}, p.Statements())
}

func TestPostgresRenameModelAndJoinTable(t *testing.T) {
	tags := func(model, table string) schema.Schema {
		return schema.Schema{
			Models: []schema.Model{
				{Name: model, Fields: []schema.Field{
					{Name: "slug", Type: schema.TypeString, Unique: true},
					{Name: "tags", Type: schema.TypeRelation, Relation: "PostTags", List: true},
				}},
				{Name: "Tag", Fields: []schema.Field{{Name: "posts", Type: schema.TypeRelation, Relation: "PostTags", List: true}}},
			},
			Relations: []schema.Relation{{
				Name: "PostTags",
				A:    schema.RelationSide{Model: model, Field: "tags"},
				B:    schema.RelationSide{Model: "Tag", Field: "posts"},
				Link: schema.Link{Strategy: schema.LinkTable, Table: table},
			}},
		}
	}
	next := tags("Article", "post_tags")
	next.Models[0].OldName = "Post"
	p := plan(t, DialectPostgres, tags("Post", ""), next)
	assert.Equal(t, []string{
		`ALTER TABLE "p1"."Post" RENAME TO "Article"`,
		`ALTER INDEX "p1"."Post.slug._UNIQUE" RENAME TO "Article.slug._UNIQUE"`,
		`ALTER TABLE "p1"."_PostTags" RENAME TO "post_tags"`,
		`ALTER INDEX "p1"."_PostTags.AB._UNIQUE" RENAME TO "post_tags.AB._UNIQUE"`,
	}, p.Statements())
}

func TestSQLiteRebuild(t *testing.T) {
	prev := users(schema.Field{Name: "email", Type: schema.TypeString})
	next := users(
		schema.Field{Name: "email", Type: schema.TypeString, Required: true},
		schema.Field{Name: "age", Type: schema.TypeInt, Required: true},
	)
	p := plan(t, DialectSQLite, prev, next)
	require.Len(t, p.Steps, 2)
	assert.Empty(t, p.Steps[0].Statements, "rebuilt once, at the last step")
	assert.Equal(t, []string{
		"CREATE TABLE \"_new_User\" (\n  \"id\" TEXT NOT NULL PRIMARY KEY,\n  \"email\" TEXT NOT NULL,\n  \"age\" INTEGER NOT NULL\n)",
		`INSERT INTO "_new_User" ("id", "email", "age") SELECT "id", COALESCE("email", ''), 0 FROM "User"`,
		`DROP TABLE "User"`,
		`ALTER TABLE "_new_User" RENAME TO "User"`,
	}, p.Steps[1].Statements)
}

func TestSQLiteCreateModelIncludesForeignKeys(t *testing.T) {
	next := schema.Schema{
		Models: []schema.Model{{Name: "Person", Fields: []schema.Field{
			{Name: "mentor", Type: schema.TypeRelation, Relation: "Mentorship"},
			{Name: "mentees", Type: schema.TypeRelation, Relation: "Mentorship", List: true},
		}}},
		Relations: []schema.Relation{{
			Name: "Mentorship",
			A:    schema.RelationSide{Model: "Person", Field: "mentor"},
			B:    schema.RelationSide{Model: "Person", Field: "mentees"},
			Link: schema.Link{Strategy: schema.LinkInline, Host: &schema.RelationSide{Model: "Person", Field: "mentor"}},
		}},
	}
	p := plan(t, DialectSQLite, schema.Schema{}, next)
	assert.Equal(t, []string{
		"CREATE TABLE \"Person\" (\n  \"id\" TEXT NOT NULL PRIMARY KEY,\n  \"mentor\" TEXT REFERENCES \"Person\" (\"id\") ON DELETE SET NULL\n)",
	}, p.Statements())
}

func TestPlanSQL(t *testing.T) {
	p := Plan{Steps: []StepSQL{
		{Index: 0, Step: diff.Step{Type: diff.CreateEnum, Enum: "Role"}},
		{Index: 1, Step: diff.Step{Type: diff.DeleteModel, Model: "User"}, Statements: []string{`DROP TABLE "User"`}},
	}}
	assert.Equal(t, "-- 2. DeleteModel User\nDROP TABLE \"User\";\n", p.SQL())
}

func TestPlaceholder(t *testing.T) {
	s := schema.Schema{Enums: []schema.Enum{{Name: "Role", Values: []string{"ADMIN", "MEMBER"}}}}
	assert.Equal(t, "0", Placeholder(s, schema.Field{Type: schema.TypeFloat}))
	assert.Equal(t, "false", Placeholder(s, schema.Field{Type: schema.TypeBoolean}))
	assert.Equal(t, "{}", Placeholder(s, schema.Field{Type: schema.TypeJSON}))
	assert.Equal(t, "ADMIN", Placeholder(s, schema.Field{Type: schema.TypeEnum, Enum: "Role"}))
	assert.Equal(t, "", Placeholder(s, schema.Field{Type: schema.TypeString}))
	assert.Equal(t, "1970-01-01T00:00:00Z", Placeholder(s, schema.Field{Type: schema.TypeDateTime}))
}

func TestLiteral(t *testing.T) {
	pg := &planner{dialect: DialectPostgres}
	lite := &planner{dialect: DialectSQLite}
	assert.Equal(t, "TRUE", pg.literal(schema.TypeBoolean, "true"))
	assert.Equal(t, "0", lite.literal(schema.TypeBoolean, "false"))
	assert.Equal(t, "'it''s'", pg.literal(schema.TypeString, "it's"))
	assert.Equal(t, "42", pg.literal(schema.TypeInt, "42"))
}

func TestForUnknownDialect(t *testing.T) {
	_, err := For("oracle", "", schema.Schema{}, schema.Schema{}, nil)
	assert.ErrorContains(t, err, "unsupported dialect")
}
