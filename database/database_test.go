package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/generator"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/schema"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stepPlan(stmts ...[]string) generator.Plan {
	p := generator.Plan{Dialect: generator.DialectSQLite}
	for i, s := range stmts {
		p.Steps = append(p.Steps, generator.StepSQL{Index: i, Step: diff.Step{Type: diff.CreateModel}, Statements: s})
	}
	return p
}

func TestSQLiteApplyGeneratedPlan(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	next := schema.Schema{Models: []schema.Model{{Name: "User", Fields: []schema.Field{
		{Name: "email", Type: schema.TypeString, Required: true, Unique: true},
	}}}}
	steps, err := diff.Infer(schema.Schema{}, next, nil)
	require.NoError(t, err)
	plan, err := s.Plan("", schema.Schema{}, next, steps)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, "", plan))

	tables, err := s.Introspect(ctx, "")
	require.NoError(t, err)
	user, ok := introspect.Find(tables, "User")
	require.True(t, ok)
	email, _ := user.Column("email")
	assert.True(t, email.Unique)
	assert.False(t, email.Nullable)
}

func TestSQLiteApplyStepErrorRollsBack(t *testing.T) {
	s := openMemory(t)
	plan := stepPlan(
		[]string{`CREATE TABLE "A" ("id" TEXT NOT NULL PRIMARY KEY)`},
		[]string{`CREATE TABLE "B" ("id" TEXT NOT NULL PRIMARY KEY)`, `CREATE TABLE "A" ("id" TEXT)`},
	)
	err := s.Apply(context.Background(), "", plan)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, `CREATE TABLE "A" ("id" TEXT)`, stepErr.Statement)
	assert.Contains(t, stepErr.Error(), "step 2")

	tables, err := s.Introspect(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSQLiteApplyChecksForeignKeys(t *testing.T) {
	s := openMemory(t)
	plan := stepPlan([]string{
		`CREATE TABLE "User" ("id" TEXT NOT NULL PRIMARY KEY)`,
		`CREATE TABLE "Post" ("id" TEXT NOT NULL PRIMARY KEY, "author" TEXT REFERENCES "User" ("id"))`,
		`INSERT INTO "Post" ("id", "author") VALUES ('p1', 'ghost')`,
	})
	err := s.Apply(context.Background(), "", plan)
	assert.ErrorContains(t, err, "foreign key check failed: Post row 1 references missing User row")

	tables, err := s.Introspect(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSQLiteProbes(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	_, err := s.DB().Exec(`CREATE TABLE "User" ("id" TEXT PRIMARY KEY, "email" TEXT)`)
	require.NoError(t, err)

	probes := s.Probes("")
	found, err := probes.ExistsByModel(ctx, "User")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.DB().Exec(`INSERT INTO "User" VALUES ('a', 'x'), ('b', 'x'), ('c', NULL)`)
	require.NoError(t, err)
	for name, probe := range map[string]func() (bool, error){
		"rows":       func() (bool, error) { return probes.ExistsByModel(ctx, "User") },
		"nulls":      func() (bool, error) { return probes.ExistsNullByModelAndField(ctx, "User", "email") },
		"duplicates": func() (bool, error) { return probes.ExistsDuplicateValueByModelAndField(ctx, "User", "email") },
		"enum value": func() (bool, error) { return probes.EnumValueIsInUse(ctx, "User", "email", "x") },
	} {
		found, err := probe()
		require.NoError(t, err, name)
		assert.True(t, found, name)
	}

	found, err = probes.EnumValueIsInUse(ctx, "User", "email", "y")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "", nil)
	assert.ErrorContains(t, err, "DATABASE_URL")

	path := filepath.Join(t.TempDir(), "deploy.db")
	b, err := Open(ctx, "sqlite://"+path, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, generator.DialectSQLite, b.Dialect())
	assert.True(t, b.Transactional())

	db, err := b.Gorm(logger.Silent)
	require.NoError(t, err)
	assert.NoError(t, db.Exec("SELECT 1").Error)
}
