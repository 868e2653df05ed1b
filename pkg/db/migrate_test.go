package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"haper/pkg/db/migrations"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.up.sql": {Data: []byte("CREATE INDEX b")},
		"001_init.up.sql":      {Data: []byte("CREATE TABLE a")},
		"001_init.down.sql":    {Data: []byte("DROP TABLE a")},
		"README":               {Data: []byte("ignored")},
	}

	ms, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "init", ms[0].Name)
	assert.Equal(t, "add_index", ms[1].Name)
}

func TestLoadMigrations_Invalid(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"init.up.sql": {Data: []byte("x")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.up.sql": {Data: []byte("x")},
		"001_b.up.sql": {Data: []byte("y")},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestEmbeddedSchema(t *testing.T) {
	ms, err := LoadMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS sessions")
	assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS outbox_events")
}

func TestMigrate_SkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{
		"001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT)")},
		"002_second.up.sql": {Data: []byte("CREATE TABLE b (id INT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec(`CREATE TABLE b \(id INT\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(2, "second").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := Migrate(context.Background(), mock, fsys, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
