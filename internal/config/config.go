package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sebtcheng/insighted-monitor/internal/live"
)

// Config holds the full application configuration.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger" mapstructure:"ledger"`
	Roster RosterConfig `yaml:"roster" mapstructure:"roster"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// LedgerConfig configures the submission ledger backend.
type LedgerConfig struct {
	Driver      string          `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string          `yaml:"database_url" mapstructure:"database_url"`
	Pool        live.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RosterConfig configures the school master list source.
type RosterConfig struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	Sheet        string        `yaml:"sheet" mapstructure:"sheet"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHTED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ledger.driver", "postgres")
	v.SetDefault("ledger.pool.max_conns", 10)
	v.SetDefault("ledger.pool.min_conns", 2)
	v.SetDefault("roster.fetch_timeout", 60*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given command mode actually needs, so a
// roster check does not demand ledger credentials.
func (c *Config) Validate(mode string) error {
	var problems []string

	needLedger := func() {
		switch c.Ledger.Driver {
		case "postgres", "sqlite":
		default:
			problems = append(problems, "ledger.driver must be postgres or sqlite")
		}
		if c.Ledger.DatabaseURL == "" {
			problems = append(problems, "ledger.database_url is required")
		}
	}
	needRoster := func() {
		if c.Roster.URL == "" {
			problems = append(problems, "roster.url is required")
		}
	}

	switch mode {
	case "serve":
		needLedger()
		needRoster()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
	case "stats":
		needLedger()
		needRoster()
	case "migrate":
		needLedger()
	case "roster":
		needRoster()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
