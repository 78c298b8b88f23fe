// Package config handles loading and validating daybreak configuration.
// Supports a YAML config file and DAYBREAK_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marcus/daybreak/internal/autonomy"
	"github.com/marcus/daybreak/internal/logging"
)

// Known source types for account validation.
var knownSources = map[string]bool{
	"email":         true,
	"chat":          true,
	"meeting_notes": true,
}

// Extractor configures the LLM-backed candidate extraction.
type Extractor struct {
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Agent configures the orchestrator loop.
type Agent struct {
	Autonomy       string        `mapstructure:"autonomy"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
}

// Account configures one pollable external account.
type Account struct {
	Source   string        `mapstructure:"source"`
	ID       string        `mapstructure:"id"`
	Interval time.Duration `mapstructure:"interval"`
	Autonomy string        `mapstructure:"autonomy"` // overrides Agent.Autonomy when set

	// Mail.
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	Query           string `mapstructure:"query"`

	// Chat.
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`

	// Meeting notes.
	Dir string `mapstructure:"dir"`
}

// Config holds all daybreak configuration.
type Config struct {
	DBPath    string         `mapstructure:"db_path"`
	Logging   logging.Config `mapstructure:"logging"`
	Extractor Extractor      `mapstructure:"extractor"`
	Agent     Agent          `mapstructure:"agent"`
	Accounts  []Account      `mapstructure:"accounts"`
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "daybreak", "daybreak.yaml")
}

// Load reads configuration from the default path and environment.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads configuration from an explicit file path and environment.
// A missing file yields defaults; a malformed file is an error.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(expandPath(path))
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DAYBREAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("extractor.endpoint", "http://localhost:11434")
	v.SetDefault("extractor.model", "llama3.1")
	v.SetDefault("extractor.timeout", "60s")
	v.SetDefault("agent.autonomy", "suggest")
	v.SetDefault("agent.poll_timeout", "2m")
	v.SetDefault("agent.extract_timeout", "90s")
}

// Validate checks account definitions and agent settings.
func (c *Config) Validate() error {
	if _, err := autonomy.ParseLevel(c.Agent.Autonomy); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		where := fmt.Sprintf("accounts[%d]", i)
		if acct.ID == "" {
			return fmt.Errorf("%s: missing account id", where)
		}
		if !knownSources[acct.Source] {
			return fmt.Errorf("%s: unknown source %q", where, acct.Source)
		}
		if acct.Interval <= 0 {
			return fmt.Errorf("%s (%s/%s): poll interval must be positive", where, acct.Source, acct.ID)
		}
		if acct.Autonomy != "" {
			if _, err := autonomy.ParseLevel(acct.Autonomy); err != nil {
				return fmt.Errorf("%s (%s/%s): %w", where, acct.Source, acct.ID, err)
			}
		}

		key := acct.Source + "/" + acct.ID
		if seen[key] {
			return fmt.Errorf("%s: duplicate account %s", where, key)
		}
		seen[key] = true
	}

	return nil
}

// Level resolves the autonomy level for an account, falling back to the
// agent-wide default.
func (c *Config) Level(acct Account) autonomy.Level {
	if acct.Autonomy != "" {
		level, err := autonomy.ParseLevel(acct.Autonomy)
		if err == nil {
			return level
		}
	}
	level, err := autonomy.ParseLevel(c.Agent.Autonomy)
	if err != nil {
		return autonomy.LevelSuggest
	}
	return level
}

// ExpandedDBPath returns the database path with ~ expanded.
func (c *Config) ExpandedDBPath() string {
	return expandPath(c.DBPath)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
