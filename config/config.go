// Package config loads settings from defaults, an optional .env file,
// optional config files, prefixed environment variables and command line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/query"
)

// DefaultPrefix is the prefix of the environment variables, e.g.
// CSVMGR_SERVER_ADDR for server.addr.
const DefaultPrefix = "CSVMGR_"

type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	History     bool   `mapstructure:"history"`
	Delimiter   string `mapstructure:"delimiter"`
	IndexColumn string `mapstructure:"index_column"`
	MaxRows     int    `mapstructure:"max_rows"`
	MaxColumns  int    `mapstructure:"max_columns"`

	Log    LogConfig    `mapstructure:"log"`
	Compat CompatConfig `mapstructure:"compat"`
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	S3     S3Config     `mapstructure:"s3"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CompatConfig restores the legacy cap on query terms when positive.
type CompatConfig struct {
	MaxConditions  int `mapstructure:"max_conditions"`
	MaxAssignments int `mapstructure:"max_assignments"`
}

type ServerConfig struct {
	Addr           string  `mapstructure:"addr"`
	MaxConnections int     `mapstructure:"max_connections"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
	MetricsAddr    string  `mapstructure:"metrics_addr"`
	Watch          bool    `mapstructure:"watch"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

var defaults = map[string]any{
	"data_dir":               "data",
	"history":                true,
	"delimiter":              string(core.DefaultDelimiter),
	"index_column":           core.DefaultIndexColumn,
	"max_rows":               core.DefaultMaxRows,
	"max_columns":            core.DefaultMaxColumns,
	"log.level":              "info",
	"compat.max_conditions":  0,
	"compat.max_assignments": 0,
	"server.addr":            "127.0.0.1:3306",
	"server.max_connections": 100,
	"server.rate_limit":      0.0,
	"server.rate_burst":      10,
	"server.metrics_addr":    "",
	"server.watch":           false,
	"auth.jwt_secret":        "",
	"auth.issuer":            "",
	"auth.audience":          "",
	"s3.region":              "",
	"s3.endpoint":            "",
	"s3.access_key":          "",
	"s3.secret_key":          "",
}

// EnvName returns the environment variable read for key.
func EnvName(prefix, key string) string {
	return strings.ToUpper(prefix) + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// FlagName returns the command line flag bound to key: server.rate_limit
// is --server-rate-limit.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Load reads the configuration without command line flags.
func Load(prefix string, files ...string) (Config, error) {
	return LoadFlags(prefix, nil, files...)
}

// LoadFlags reads the configuration. files are merged in order and missing
// ones are skipped; a file named .env holds environment style assignments.
// A flag of flags named after FlagName overrides everything else when set.
func LoadFlags(prefix string, flags *pflag.FlagSet, files ...string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if strings.HasSuffix(file, ".env") {
			if err := loadDotEnv(v, prefix, file); err != nil {
				return Config{}, err
			}
			continue
		}
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	for key := range defaults {
		if err := v.BindEnv(key, EnvName(prefix, key)); err != nil {
			return Config{}, err
		}
		if flags == nil {
			continue
		}
		if flag := flags.Lookup(FlagName(key)); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv applies PREFIX_KEY=value lines of a dotenv file as defaults,
// below config files and the real environment.
func loadDotEnv(v *viper.Viper, prefix, file string) error {
	env := viper.New()
	env.SetConfigFile(file)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	for key := range defaults {
		name := strings.ToLower(EnvName(prefix, key))
		if env.IsSet(name) {
			v.SetDefault(key, env.Get(name))
		}
	}
	return nil
}

func (cfg Config) Limits() core.Limits {
	return core.Limits{MaxRows: cfg.MaxRows, MaxColumns: cfg.MaxColumns}
}

func (cfg Config) DelimiterRune() (rune, error) {
	return core.ParseDelimiter(cfg.Delimiter)
}

func (cfg Config) QueryOptions() query.Options {
	return query.Options{
		MaxConditions:  cfg.Compat.MaxConditions,
		MaxAssignments: cfg.Compat.MaxAssignments,
	}
}
