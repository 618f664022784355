package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultSessionSecret = "dev_session_secret_change_me_0123456789"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Config defines the service configuration structure
type Config struct {
	App struct {
		Port           string   `mapstructure:"port"`
		Environment    string   `mapstructure:"environment"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	KV struct {
		Path       string `mapstructure:"path"`
		GCSchedule string `mapstructure:"gc_schedule"`
	} `mapstructure:"kv"`

	Auth struct {
		SessionSecret   string        `mapstructure:"session_secret"`
		BlockSecret     string        `mapstructure:"block_secret"`
		SessionTTL      time.Duration `mapstructure:"session_ttl"`
		ChallengeWindow time.Duration `mapstructure:"challenge_window"`
		AppName         string        `mapstructure:"app_name"`
	} `mapstructure:"auth"`

	Roles struct {
		Admins   []string `mapstructure:"admins"`
		Curators []string `mapstructure:"curators"`
	} `mapstructure:"roles"`

	Moderation struct {
		ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
		DecisionWait time.Duration `mapstructure:"decision_wait"`
	} `mapstructure:"moderation"`
}

// Load reads the optional YAML file at path and merges environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	bindings := map[string]string{
		"app.port":                 "PORT",
		"app.environment":          "APP_ENV",
		"app.allowed_origins":      "ALLOWED_ORIGINS",
		"logging.level":            "LOG_LEVEL",
		"database.url":             "DATABASE_URL",
		"kv.path":                  "KV_PATH",
		"kv.gc_schedule":           "KV_GC_SCHEDULE",
		"auth.session_secret":      "SESSION_SECRET",
		"auth.block_secret":        "SESSION_BLOCK_KEY",
		"auth.session_ttl":         "SESSION_TTL",
		"auth.challenge_window":    "CHALLENGE_WINDOW",
		"auth.app_name":            "APP_NAME",
		"roles.admins":             "ADMIN_WALLETS",
		"roles.curators":           "CURATOR_WALLETS",
		"moderation.claim_ttl":     "MODERATION_CLAIM_TTL",
		"moderation.decision_wait": "MODERATION_DECISION_WAIT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", env)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "read config %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.environment", EnvDevelopment)
	v.SetDefault("app.allowed_origins", []string{"*"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.url", "host=localhost user=postgres password=postgres dbname=ethapplist port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("kv.path", "./data/kv")
	v.SetDefault("kv.gc_schedule", "@every 10m")
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.block_secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.challenge_window", 5*time.Minute)
	v.SetDefault("auth.app_name", "EthAppList")
	v.SetDefault("roles.admins", []string{})
	v.SetDefault("roles.curators", []string{})
	v.SetDefault("moderation.claim_ttl", 30*time.Second)
	v.SetDefault("moderation.decision_wait", 5*time.Second)
}

func (c *Config) normalize() error {
	c.App.Environment = strings.ToLower(strings.TrimSpace(c.App.Environment))
	c.App.AllowedOrigins = cleanList(c.App.AllowedOrigins, false)

	if c.Auth.SessionSecret == "" {
		if c.App.Environment != EnvDevelopment {
			return fmt.Errorf("config: SESSION_SECRET is required in %s", c.App.Environment)
		}
		c.Auth.SessionSecret = defaultSessionSecret
	}
	switch len(c.Auth.BlockSecret) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("config: SESSION_BLOCK_KEY must be 16, 24 or 32 bytes, got %d", len(c.Auth.BlockSecret))
	}

	durations := map[string]time.Duration{
		"auth.session_ttl":         c.Auth.SessionTTL,
		"auth.challenge_window":    c.Auth.ChallengeWindow,
		"moderation.claim_ttl":     c.Moderation.ClaimTTL,
		"moderation.decision_wait": c.Moderation.DecisionWait,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", key)
		}
	}

	c.Roles.Admins = cleanList(c.Roles.Admins, true)
	c.Roles.Curators = cleanList(c.Roles.Curators, true)
	for _, w := range append(append([]string{}, c.Roles.Admins...), c.Roles.Curators...) {
		if !walletPattern.MatchString(w) {
			return fmt.Errorf("config: invalid role wallet %q", w)
		}
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

func cleanList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		// env values arrive as a single comma separated string when no hook splits them
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lower {
				part = strings.ToLower(part)
			}
			out = append(out, part)
		}
	}
	return out
}
