package diff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemadeploy/schema"
)

var allCaps = schema.NewCapabilitySet(schema.KnownCapabilities()...)

func ptr(s string) *string { return &s }

func blog() schema.Schema {
	return schema.Schema{
		Enums: []schema.Enum{{Name: "Role", Values: []string{"ADMIN", "MEMBER"}}},
		Models: []schema.Model{
			{Name: "User", Fields: []schema.Field{
				{Name: "email", Type: schema.TypeString},
				{Name: "role", Type: schema.TypeEnum, Enum: "Role"},
				{Name: "posts", Type: schema.TypeRelation, Relation: "Authorship", List: true},
			}},
			{Name: "Post", Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString},
				{Name: "author", Type: schema.TypeRelation, Relation: "Authorship"},
				{Name: "tags", Type: schema.TypeRelation, Relation: "PostTags", List: true},
			}},
			{Name: "Tag", Fields: []schema.Field{
				{Name: "label", Type: schema.TypeString},
				{Name: "posts", Type: schema.TypeRelation, Relation: "PostTags", List: true},
			}},
		},
		Relations: []schema.Relation{
			{
				Name: "Authorship",
				A:    schema.RelationSide{Model: "Post", Field: "author"},
				B:    schema.RelationSide{Model: "User", Field: "posts"},
				Link: schema.Link{Strategy: schema.LinkInline, Host: &schema.RelationSide{Model: "Post", Field: "author"}},
			},
			{
				Name: "PostTags",
				A:    schema.RelationSide{Model: "Post", Field: "tags"},
				B:    schema.RelationSide{Model: "Tag", Field: "posts"},
				Link: schema.Link{Strategy: schema.LinkTable},
			},
		},
	}
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

func TestInferFromEmpty(t *testing.T) {
	steps, err := Infer(schema.Schema{}, blog(), allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CreateEnum enum Role",
		"CreateModel User",
		"CreateModel Post",
		"CreateModel Tag",
		"CreateField Post.author",
		"CreateField User.posts",
		"CreateField Post.tags",
		"CreateField Tag.posts",
		"CreateRelationTable relation PostTags",
	}, names(steps))
}

func TestInferIsDeterministic(t *testing.T) {
	first, err := Infer(blog(), blog(), allCaps)
	require.NoError(t, err)
	assert.Empty(t, first)

	a, errA := Infer(schema.Schema{}, blog(), allCaps)
	b, errB := Infer(schema.Schema{}, blog(), allCaps)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestInferRenamesAndFieldChanges(t *testing.T) {
	next := blog()
	next.Models[0].Name = "Member"
	next.Models[0].OldName = "User"
	next.Models[0].Fields[0] = schema.Field{Name: "mail", OldName: "email", Type: schema.TypeString, Required: true, Unique: true}
	next.Models[0].Fields = append(next.Models[0].Fields, schema.Field{Name: "age", Type: schema.TypeInt, Default: ptr("0")})
	next.Relations[0].B.Model = "Member"
	next.Models[2].Fields = next.Models[2].Fields[1:]

	steps, err := Infer(blog(), next, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DeleteField Tag.label",
		"UpdateModel Member (was User) [name]",
		"UpdateField Member.mail (was email) [name,required,unique]",
		"CreateField Member.age",
	}, names(steps))
}

func TestInferDeletesRelationsBeforeModels(t *testing.T) {
	next := blog()
	next.Models = next.Models[:2]
	next.Models[1].Fields = next.Models[1].Fields[:2]
	next.Relations = next.Relations[:1]
	next.Enums = nil
	next.Models[0].Fields = []schema.Field{next.Models[0].Fields[0], next.Models[0].Fields[2]}

	steps, err := Infer(blog(), next, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DeleteRelationTable relation PostTags",
		"DeleteField Post.tags",
		"DeleteField User.role",
		"DeleteModel Tag",
		"DeleteEnum enum Role",
	}, names(steps))
}

func TestInferEnumValues(t *testing.T) {
	next := blog()
	next.Enums[0].Values = []string{"ADMIN", "GUEST"}
	steps, err := Infer(blog(), next, allCaps)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, UpdateEnum, steps[0].Type)
	assert.True(t, steps[0].Has(ChangeValues))
	assert.Equal(t, []string{"GUEST"}, steps[0].AddedValues)
	assert.Equal(t, []string{"MEMBER"}, steps[0].RemovedValues)
}

func TestInferEnumRenameKeepsFieldType(t *testing.T) {
	next := blog()
	next.Enums[0] = schema.Enum{Name: "Kind", OldName: "Role", Values: []string{"ADMIN", "MEMBER"}}
	next.Models[0].Fields[1].Enum = "Kind"
	steps, err := Infer(blog(), next, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{"UpdateEnum enum Kind (was Role) [name]"}, names(steps))

	next.Models[0].Fields[1].Required = true
	steps, err = Infer(blog(), next, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"UpdateEnum enum Kind (was Role) [name]",
		"UpdateField User.role [required]",
	}, names(steps))
}

func TestInferRelationChanges(t *testing.T) {
	next := blog()
	next.Relations[1].Link.Table = "post_tags"
	next.Models[1].Fields[1].Required = true
	steps, err := Infer(blog(), next, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"UpdateRelation relation Authorship [required]",
		"UpdateRelation relation PostTags [link]",
	}, names(steps))
}

func TestInferSelfRelations(t *testing.T) {
	people := schema.Schema{
		Models: []schema.Model{{Name: "Person", Fields: []schema.Field{
			{Name: "manager", Type: schema.TypeRelation, Relation: "Management"},
			{Name: "reports", Type: schema.TypeRelation, Relation: "Management", List: true},
			{Name: "mentor", Type: schema.TypeRelation, Relation: "Mentorship"},
			{Name: "mentees", Type: schema.TypeRelation, Relation: "Mentorship", List: true},
		}}},
		Relations: []schema.Relation{
			{
				Name: "Management",
				A:    schema.RelationSide{Model: "Person", Field: "manager"},
				B:    schema.RelationSide{Model: "Person", Field: "reports"},
				Link: schema.Link{Strategy: schema.LinkInline, Host: &schema.RelationSide{Model: "Person", Field: "manager"}},
			},
			{
				Name: "Mentorship",
				A:    schema.RelationSide{Model: "Person", Field: "mentor"},
				B:    schema.RelationSide{Model: "Person", Field: "mentees"},
				Link: schema.Link{Strategy: schema.LinkInline, Host: &schema.RelationSide{Model: "Person", Field: "mentor"}},
			},
		},
	}
	steps, err := Infer(schema.Schema{}, people, allCaps)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CreateModel Person",
		"CreateField Person.manager",
		"CreateField Person.reports",
		"CreateField Person.mentor",
		"CreateField Person.mentees",
	}, names(steps))
}

func TestInferErrors(t *testing.T) {
	var diffErr *Error

	invalid := blog()
	invalid.Models[0].Fields[1].Enum = "Missing"
	_, err := Infer(schema.Schema{}, invalid, allCaps)
	require.True(t, errors.As(err, &diffErr))
	assert.Equal(t, KindInvalidSchema, diffErr.Kind)
	assert.Equal(t, "User", diffErr.Problems[0].Model)

	clash := blog()
	clash.Relations[0].Link.Column = "title"
	_, err = Infer(schema.Schema{}, clash, allCaps)
	require.True(t, errors.As(err, &diffErr))
	assert.Equal(t, KindInvalidSchema, diffErr.Kind)
	assert.Equal(t, "Authorship", diffErr.Problems[0].Relation)

	current := blog()
	current.Models = append(current.Models, schema.Model{Name: "Member"})
	ambiguous := blog()
	ambiguous.Models = append(ambiguous.Models, schema.Model{Name: "Member", OldName: "User"})
	_, err = Infer(current, ambiguous, allCaps)
	require.True(t, errors.As(err, &diffErr))
	assert.Equal(t, KindAmbiguousRename, diffErr.Kind)

	idChange := blog()
	idChange.Models[2].IDType = schema.IDInt
	_, err = Infer(blog(), idChange, allCaps)
	require.True(t, errors.As(err, &diffErr))
	assert.Equal(t, KindUnsupportedChange, diffErr.Kind)
	assert.Contains(t, diffErr.Error(), "changing the id type from String to Int")

	strategy := blog()
	strategy.Relations[0].Link = schema.Link{Strategy: schema.LinkTable}
	_, err = Infer(blog(), strategy, allCaps)
	require.True(t, errors.As(err, &diffErr))
	assert.Equal(t, KindUnsupportedChange, diffErr.Kind)
	assert.Equal(t, "Authorship", diffErr.Problems[0].Relation)
}

func TestInferCapabilities(t *testing.T) {
	next := blog()
	next.Models = append(next.Models, schema.Model{Name: "Counter", IDType: schema.IDInt})

	_, err := Infer(blog(), next, schema.NewCapabilitySet())
	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, []MissingCapability{{Model: "Counter", IDType: schema.IDInt, Capability: schema.CapabilityIntID}}, capErr.Missing)

	// models that already exist are not rechecked
	_, err = Infer(next, next, schema.NewCapabilitySet())
	assert.NoError(t, err)
}
