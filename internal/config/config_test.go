package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Ledger.Driver)
	assert.EqualValues(t, 10, cfg.Ledger.Pool.MaxConns)
	assert.EqualValues(t, 2, cfg.Ledger.Pool.MinConns)
	assert.Equal(t, 60*time.Second, cfg.Roster.FetchTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
ledger:
  driver: sqlite
  database_url: /var/lib/insighted/ledger.db
roster:
  url: https://example.gov/masterlist.csv
log:
  level: debug
  format: console
server:
  port: 9090
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "/var/lib/insighted/ledger.db", cfg.Ledger.DatabaseURL)
	assert.Equal(t, "https://example.gov/masterlist.csv", cfg.Roster.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.EqualValues(t, 10, cfg.Ledger.Pool.MaxConns)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
ledger:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INSIGHTED_LEDGER_DRIVER", "postgres")
	t.Setenv("INSIGHTED_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Ledger.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("INSIGHTED_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestValidateServe(t *testing.T) {
	cfg := &Config{}
	cfg.Ledger.Driver = "postgres"
	cfg.Ledger.DatabaseURL = "postgres://localhost/ledger"
	cfg.Roster.URL = "masterlist.csv"
	cfg.Server.Port = 8080

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_Missing(t *testing.T) {
	cfg := &Config{}
	cfg.Ledger.Driver = "oracle"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.driver must be postgres or sqlite")
	assert.Contains(t, err.Error(), "ledger.database_url is required")
	assert.Contains(t, err.Error(), "roster.url is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateRoster_NoLedgerNeeded(t *testing.T) {
	cfg := &Config{}
	cfg.Roster.URL = "masterlist.xlsx"

	assert.NoError(t, cfg.Validate("roster"))
}

func TestValidateMigrate_NoRosterNeeded(t *testing.T) {
	cfg := &Config{}
	cfg.Ledger.Driver = "sqlite"
	cfg.Ledger.DatabaseURL = "ledger.db"

	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := (&Config{}).Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
