package db

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsAndSkipsUnnumbered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql": {Data: []byte("CREATE INDEX x ON y (z);")},
		"001_init.sql":    {Data: []byte("CREATE TABLE y (z INT);")},
		"README.md":       {Data: []byte("notes")},
		"draft_next.sql":  {Data: []byte("SELECT 1;")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_init.sql", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_RejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}

	_, err := LoadMigrations(fsys)
	require.Error(t, err)
}

func TestEmbeddedMigrations_ContainExclusionConstraint(t *testing.T) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	require.NoError(t, err)

	migrations, err := LoadMigrations(sub)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "appointments_no_double_booking")
}

func TestEmbeddedMigrations_StatusEventsHaveSequence(t *testing.T) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	require.NoError(t, err)

	migrations, err := LoadMigrations(sub)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	seq := migrations[1]
	assert.Equal(t, 2, seq.Version)
	assert.Contains(t, seq.SQL, "appointment_status_events ADD COLUMN seq BIGSERIAL")
}
