package database_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/database"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_NAME", "")

	cfg := database.ConfigFromEnv()

	assert.Equal(t, database.DriverPostgres, cfg.Driver)
	assert.Equal(t, "clockwatch", cfg.Database)
	assert.Equal(t, 5432, cfg.Port)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	for _, driver := range []string{database.DriverPostgres, database.DriverSQLite, database.DriverMemory} {
		assert.NoError(t, database.Config{Driver: driver}.Validate(), driver)
	}
	assert.Error(t, database.Config{Driver: "mysql"}.Validate())
}

func TestConfig_ConnectionString(t *testing.T) {
	cfg := database.Config{User: "u", Password: "p", Host: "db", Port: 5433, Database: "cw", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/cw?sslmode=require", cfg.ConnectionString())
}

func TestOpenSQLite(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "clockwatch.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
}
