package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherdb/tether/sqlite"
)

// runCommand executes the root command with args and returns stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// newSeededDatabase creates a database file with a person table.
func newSeededDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(context.Background(),
		`CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, email TEXT)`, nil)
	require.NoError(t, err)
	return path
}

func TestTablesCommand(t *testing.T) {
	path := newSeededDatabase(t)

	out, err := runCommand(t, "tables", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "person\n", out)
}

func TestTablesCommand_JSONFormat(t *testing.T) {
	path := newSeededDatabase(t)

	out, err := runCommand(t, "tables", "--db", path, "--format", "json")
	require.NoError(t, err)
	var result struct {
		Tables []string `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"person"}, result.Tables)
}

func TestRootCommand_RejectsBadFormat(t *testing.T) {
	path := newSeededDatabase(t)

	_, err := runCommand(t, "tables", "--db", path, "--format", "xml")
	require.Error(t, err)
}

func TestExecCommand(t *testing.T) {
	path := newSeededDatabase(t)

	out, err := runCommand(t, "exec", "--db", path,
		`INSERT INTO person (name) VALUES ('Joe'), ('Mary')`)
	require.NoError(t, err)
	assert.Equal(t, "2 row(s) affected\n", out)

	out, err = runCommand(t, "exec", "--db", path,
		`SELECT name FROM person ORDER BY name`)
	require.NoError(t, err)
	assert.Equal(t, "name\nJoe\nMary\n", out)
}

func TestExecCommand_BadStatement(t *testing.T) {
	path := newSeededDatabase(t)

	_, err := runCommand(t, "exec", "--db", path, "FROB THE KNOB")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedCommand(t *testing.T) {
	path := newSeededDatabase(t)
	mappingDir := writeMapping(t, personMapping)

	fixtures := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- class: Person
  rows:
    - name: Joe
      email: joe@example.com
    - name: Mary
`), 0o644))

	out, err := runCommand(t, "seed", "--db", path, "--mapping", mappingDir, fixtures)
	require.NoError(t, err)
	assert.Equal(t, "inserted 2 row(s)\n", out)

	out, err = runCommand(t, "exec", "--db", path, "SELECT COUNT(*) AS n FROM person")
	require.NoError(t, err)
	assert.Equal(t, "n\n2\n", out)
}

func TestSeedCommand_UnknownClassInsertsNothing(t *testing.T) {
	path := newSeededDatabase(t)
	mappingDir := writeMapping(t, personMapping)

	fixtures := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- class: Ghost
  rows:
    - name: Nobody
`), 0o644))

	_, err := runCommand(t, "seed", "--db", path, "--mapping", mappingDir, fixtures)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := runCommand(t, "exec", "--db", path, "SELECT COUNT(*) AS n FROM person")
	require.NoError(t, err)
	assert.Equal(t, "n\n0\n", out)
}

func TestSeedCommand_UnknownColumn(t *testing.T) {
	path := newSeededDatabase(t)
	mappingDir := writeMapping(t, personMapping)

	fixtures := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- class: Person
  rows:
    - nickname: Joe
`), 0o644))

	_, err := runCommand(t, "seed", "--db", path, "--mapping", mappingDir, fixtures)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	path := newSeededDatabase(t)
	mappingDir := writeMapping(t, personMapping)

	out, err := runCommand(t, "validate", "--db", path, mappingDir)
	require.NoError(t, err)
	assert.Equal(t, "ok: 1 class(es) match the database\n", out)
}

func TestValidateCommand_ReportsProblems(t *testing.T) {
	path := newSeededDatabase(t)
	mappingDir := writeMapping(t, `classes: [{
	name:  "Person"
	table: "person"
	columns: [
		{name: "id", kind: "int", primary: true, auto: true},
		{name: "nickname", kind: "text"},
	]
}, {
	name:  "Ghost"
	table: "ghost"
	columns: [{name: "id", kind: "int", primary: true}]
}]`)

	out, err := runCommand(t, "validate", "--db", path, mappingDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `table "person" has no column "nickname"`)
	assert.Contains(t, out, `table "ghost" does not exist`)
}
