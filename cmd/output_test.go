package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemadeploy/deploy"
	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/schema"
)

func init() {
	color.NoColor = true
}

func TestPrintResultApplied(t *testing.T) {
	var buf bytes.Buffer
	res := &deploy.Result{
		MigrationID: "m1",
		Revision:    2,
		Steps:       []diff.Step{{Type: diff.CreateField, Model: "User", Field: "email"}},
		Warnings:    []string{"dropping data"},
	}
	require.NoError(t, printResult(&buf, res, nil))
	out := buf.String()
	assert.Contains(t, out, "User.email")
	assert.Contains(t, out, "dropping data")
	assert.Contains(t, out, "Applied migration m1 (revision 2)")
}

func TestPrintResultNoChangesAndDryRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, &deploy.Result{NoChanges: true, Revision: 4}, nil))
	assert.Contains(t, buf.String(), "up to date (revision 4)")

	buf.Reset()
	require.NoError(t, printResult(&buf, &deploy.Result{DryRun: true, SQL: `CREATE TABLE "User"`}, nil))
	assert.Contains(t, buf.String(), `CREATE TABLE "User"`)
}

func TestPrintResultFailure(t *testing.T) {
	var buf bytes.Buffer
	step := 0
	cause := errors.New("conflicts")
	res := &deploy.Result{Errors: []deploy.Failure{{
		Kind:    deploy.KindDataConflict,
		Model:   "User",
		Field:   "name",
		Step:    &step,
		Message: "nulls",
	}}}
	err := printResult(&buf, res, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, buf.String(), "Deploy failed")
	assert.Contains(t, buf.String(), "User.name")
}

func TestValidateSchema(t *testing.T) {
	bad := schema.Schema{Models: []schema.Model{
		{Name: "User", Fields: []schema.Field{{Name: "role", Type: schema.TypeEnum, Enum: "Role"}}},
	}}
	problems := validateSchema(bad, nil)
	require.Len(t, problems, 1)
	assert.Equal(t, "User", problems[0].Model)

	counter := schema.Schema{Models: []schema.Model{{Name: "Counter", IDType: schema.IDInt}}}
	problems = validateSchema(counter, schema.NewCapabilitySet())
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Message, "requires capability")

	assert.Empty(t, validateSchema(counter, schema.NewCapabilitySet(schema.CapabilityIntID)))
}

func TestPrintProblems(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printProblems(&buf, nil, "json"))
	var out struct {
		Valid    bool             `json:"valid"`
		Problems []schema.Problem `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.True(t, out.Valid)
	assert.Empty(t, out.Problems)

	buf.Reset()
	require.NoError(t, printProblems(&buf, schema.Problems{{Model: "User", Message: "bad"}}, "text"))
	assert.Contains(t, buf.String(), "[User] bad")

	assert.Error(t, printProblems(&buf, nil, "xml"))
}
