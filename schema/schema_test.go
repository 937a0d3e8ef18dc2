package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func blog() Schema {
	return Schema{
		Enums: []Enum{{Name: "Role", Values: []string{"ADMIN", "MEMBER"}}},
		Models: []Model{
			{Name: "User", Fields: []Field{
				{Name: "email", Type: TypeString, Required: true, Unique: true},
				{Name: "role", Type: TypeEnum, Enum: "Role", Default: ptr("MEMBER")},
				{Name: "posts", Type: TypeRelation, Relation: "Authorship", List: true},
			}},
			{Name: "Post", IDType: IDInt, Fields: []Field{
				{Name: "views", Type: TypeInt, Default: ptr("0")},
				{Name: "author", Type: TypeRelation, Relation: "Authorship"},
			}},
		},
		Relations: []Relation{{
			Name: "Authorship",
			A:    RelationSide{Model: "Post", Field: "author"},
			B:    RelationSide{Model: "User", Field: "posts"},
			Link: Link{Strategy: LinkInline, Host: &RelationSide{Model: "Post", Field: "author"}},
		}},
	}
}

func problemsOf(t *testing.T, err error) Problems {
	t.Helper()
	var problems Problems
	require.True(t, errors.As(err, &problems), "expected Problems, got %v", err)
	return problems
}

func TestValidateAcceptsBlog(t *testing.T) {
	assert.NoError(t, Validate(blog()))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	s := blog()
	s.Models[0].Fields = append(s.Models[0].Fields,
		Field{Name: "id", Type: TypeString},
		Field{Name: "email", Type: TypeString},
		Field{Name: "age", Type: TypeInt, Default: ptr("old")},
		Field{Name: "tags", Type: TypeString, List: true},
	)
	s.Enums = append(s.Enums, Enum{Name: "Empty"})

	problems := problemsOf(t, Validate(s))
	var msgs []string
	for _, p := range problems {
		msgs = append(msgs, p.String())
	}
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "[User.id] field name is reserved")
	assert.Contains(t, joined, "[User.email] duplicate field name")
	assert.Contains(t, joined, `[User.age] invalid default "old"`)
	assert.Contains(t, joined, "[User.tags] scalar list fields are not supported")
	assert.Contains(t, joined, "[enum Empty] enum must declare at least one value")
}

func TestValidateDefaults(t *testing.T) {
	cases := []struct {
		field Field
		ok    bool
	}{
		{Field{Name: "f", Type: TypeBoolean, Default: ptr("true")}, true},
		{Field{Name: "f", Type: TypeFloat, Default: ptr("1.5")}, true},
		{Field{Name: "f", Type: TypeDateTime, Default: ptr("2024-01-02T03:04:05Z")}, true},
		{Field{Name: "f", Type: TypeDateTime, Default: ptr("yesterday")}, false},
		{Field{Name: "f", Type: TypeUUID, Default: ptr("not-a-uuid")}, false},
		{Field{Name: "f", Type: TypeJSON, Default: ptr(`{"a":1}`)}, true},
		{Field{Name: "f", Type: TypeJSON, Default: ptr(`{`)}, false},
		{Field{Name: "f", Type: TypeEnum, Enum: "Role", Default: ptr("GUEST")}, false},
	}
	for _, tc := range cases {
		s := blog()
		s.Models[1].Fields = append(s.Models[1].Fields, tc.field)
		err := Validate(s)
		if tc.ok {
			assert.NoError(t, err, "%s %v", tc.field.Type, *tc.field.Default)
		} else {
			assert.Error(t, err, "%s %v", tc.field.Type, *tc.field.Default)
		}
	}
}

func TestValidateRelations(t *testing.T) {
	s := blog()
	s.Relations[0].Link.Host = &RelationSide{Model: "User", Field: "posts"}
	assert.ErrorContains(t, Validate(s), "must be to-one")

	s = blog()
	s.Relations[0].Link.Host = nil
	assert.ErrorContains(t, Validate(s), "must name the host side")

	s = blog()
	s.Relations[0].Link = Link{Strategy: LinkTable, Column: "x"}
	assert.ErrorContains(t, Validate(s), "cannot name a host or column")

	s = blog()
	s.Relations[0].B.Field = "missing"
	assert.ErrorContains(t, Validate(s), "unknown field User.missing")

	s = blog()
	s.Models[1].Fields[1].Relation = "Nope"
	assert.ErrorContains(t, Validate(s), `unknown relation "Nope"`)
}

func TestValidatePhysicalNameCollisions(t *testing.T) {
	withLink := func(link Link) Schema {
		s := blog()
		s.Relations[0].Link = link
		return s
	}
	host := &RelationSide{Model: "Post", Field: "author"}

	err := Validate(withLink(Link{Strategy: LinkInline, Host: host, Column: "views"}))
	assert.Equal(t, Problems{{Relation: "Authorship", Message: "column Post.views collides with field views"}}, problemsOf(t, err))

	err = Validate(withLink(Link{Strategy: LinkInline, Host: host, Column: "id"}))
	assert.ErrorContains(t, err, "[relation Authorship] column Post.id collides with the identifier")

	err = Validate(withLink(Link{Strategy: LinkTable, Table: "User"}))
	assert.Equal(t, Problems{{Relation: "Authorship", Message: "join table User collides with the table of model User"}}, problemsOf(t, err))

	long := strings.Repeat("R", MaxIdentifierLength)
	s := blog()
	s.Relations[0].Name = long
	s.Relations[0].Link = Link{Strategy: LinkTable}
	s.Models[0].Fields[2].Relation = long
	s.Models[1].Fields[1].Relation = long
	assert.ErrorContains(t, Validate(s), "join table name '_"+long+"' is too long")
}

func TestValidateTwoRelationsOnOneName(t *testing.T) {
	s := blog()
	s.Models[0].Fields = append(s.Models[0].Fields, Field{Name: "edits", Type: TypeRelation, Relation: "Editing", List: true})
	s.Models[1].Fields = append(s.Models[1].Fields, Field{Name: "editor", Type: TypeRelation, Relation: "Editing"})
	s.Relations = append(s.Relations, Relation{
		Name: "Editing",
		A:    RelationSide{Model: "Post", Field: "editor"},
		B:    RelationSide{Model: "User", Field: "edits"},
		Link: Link{Strategy: LinkInline, Host: &RelationSide{Model: "Post", Field: "editor"}, Column: "author"},
	})
	err := Validate(s)
	assert.Equal(t, Problems{{Relation: "Editing", Message: "column Post.author collides with relation Authorship"}}, problemsOf(t, err))

	s.Relations[0].Link = Link{Strategy: LinkTable, Table: "links"}
	s.Relations[1].Link = Link{Strategy: LinkTable, Table: "links"}
	err = Validate(s)
	assert.Equal(t, Problems{{Relation: "Editing", Message: "join table links collides with the table of relation Authorship"}}, problemsOf(t, err))
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, validateIdentifier("user_2"))
	assert.Error(t, validateIdentifier(""))
	assert.Error(t, validateIdentifier("2user"))
	assert.Error(t, validateIdentifier("user-name"))
	assert.Error(t, validateIdentifier(strings.Repeat("a", MaxIdentifierLength+1)))
}

func TestMatchSchemasRenames(t *testing.T) {
	current := blog()
	desired := blog()
	desired.Models[0].Name = "Member"
	desired.Models[0].OldName = "User"
	desired.Models[0].Fields[0].Name = "mail"
	desired.Models[0].Fields[0].OldName = "email"
	desired.Enums[0] = Enum{Name: "Level", OldName: "Role", Values: []string{"ADMIN"}}

	m, err := MatchSchemas(current, desired)
	require.NoError(t, err)

	prev, ok := m.PrevModel("Member")
	require.True(t, ok)
	assert.Equal(t, "User", prev)
	next, ok := m.NextModel("User")
	require.True(t, ok)
	assert.Equal(t, "Member", next)

	f, ok := m.PrevField("Member", "mail")
	require.True(t, ok)
	assert.Equal(t, "email", f)
	model, field, ok := m.NextField("User", "email")
	require.True(t, ok)
	assert.Equal(t, "Member", model)
	assert.Equal(t, "mail", field)

	e, ok := m.NextEnum("Role")
	require.True(t, ok)
	assert.Equal(t, "Level", e)

	side, ok := m.NextSide(RelationSide{Model: "User", Field: "posts"})
	require.True(t, ok)
	assert.Equal(t, RelationSide{Model: "Member", Field: "posts"}, side)

	_, ok = m.NextModel("Ghost")
	assert.False(t, ok)
}

func TestMatchSchemasIgnoresOldNameWhenNameExists(t *testing.T) {
	current := Schema{Models: []Model{{Name: "User"}}}
	desired := Schema{Models: []Model{{Name: "User", OldName: "Account"}}}
	m, err := MatchSchemas(current, desired)
	require.NoError(t, err)
	prev, _ := m.PrevModel("User")
	assert.Equal(t, "User", prev)
}

func TestMatchSchemasAmbiguousRename(t *testing.T) {
	current := Schema{Models: []Model{{Name: "User"}, {Name: "Member"}}}
	desired := Schema{Models: []Model{{Name: "Member", OldName: "User"}}}
	_, err := MatchSchemas(current, desired)
	problems := problemsOf(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "Member", problems[0].Model)
	assert.Contains(t, problems[0].Message, "ambiguous rename")

	current = Schema{Models: []Model{{Name: "User"}}}
	desired = Schema{Models: []Model{{Name: "A", OldName: "User"}, {Name: "B", OldName: "User"}}}
	_, err = MatchSchemas(current, desired)
	problems = problemsOf(t, err)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Message, `claimed by both "A" and "B"`)
}

func TestCapabilities(t *testing.T) {
	set, err := ParseCapabilities(" IntID , uuidid,")
	require.NoError(t, err)
	assert.True(t, set.Has(CapabilityIntID))
	assert.True(t, set.Has(CapabilityUUIDID))
	assert.Equal(t, "intid,uuidid", set.String())

	_, err = ParseCapabilities("intid,bigid")
	assert.ErrorContains(t, err, `unknown capability "bigid"`)

	both := set.Intersect(NewCapabilitySet(CapabilityIntID))
	assert.Equal(t, "intid", both.String())

	c, ok := RequiredCapability(IDUUID)
	assert.True(t, ok)
	assert.Equal(t, CapabilityUUIDID, c)
	_, ok = RequiredCapability(IDString)
	assert.False(t, ok)
}
