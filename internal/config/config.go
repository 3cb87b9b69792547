// Package config resolves the overseer CLI's startup configuration:
// database path, default repo, output format, and committer identity
// for the Dolt store. It layers flags over environment variables over
// a project config file, the same precedence beads' own cmd/bd
// establishes via viper, ported from a SQLite-shaped config.yaml/viper
// singleton to a TOML file since Overseer has no equivalent per-repo
// YAML settings file to double up with (that role belongs to
// internal/gateconfig's gates.yaml instead).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the resolved CLI configuration after flags, environment,
// and file layers have been merged.
type Config struct {
	DBPath         string `mapstructure:"db_path"`
	Database       string `mapstructure:"database"`
	DefaultRepo    string `mapstructure:"default_repo"`
	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
	Output         string `mapstructure:"output"`
}

// fileConfig mirrors Config's field set for TOML decoding; kept
// separate so the on-disk key names (snake_case, hand-authored) don't
// have to track viper's mapstructure tag conventions.
type fileConfig struct {
	DBPath         string `toml:"db_path"`
	Database       string `toml:"database"`
	DefaultRepo    string `toml:"default_repo"`
	CommitterName  string `toml:"committer_name"`
	CommitterEmail string `toml:"committer_email"`
	Output         string `toml:"output"`
}

const (
	envPrefix      = "OVERSEER"
	defaultDBPath  = ".overseer/db"
	defaultDB      = "overseer"
	defaultOutput  = "text"
	configFileName = "config.toml"
)

// Load resolves configuration in the same precedence order beads'
// PersistentPreRun applies: explicit flags win, then environment
// variables (OVERSEER_DB_PATH, OVERSEER_DEFAULT_REPO, ...), then the
// project file at <dir>/.overseer/config.toml, then hardcoded
// defaults.
func Load(dir string, flagOverrides map[string]string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// viper's AutomaticEnv only affects Get*; Unmarshal needs each key
	// explicitly bound to see environment overrides at all.
	for _, key := range []string{"db_path", "database", "default_repo", "committer_name", "committer_email", "output"} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("database", defaultDB)
	v.SetDefault("output", defaultOutput)
	v.SetDefault("committer_name", "overseer")
	v.SetDefault("committer_email", "overseer@localhost")

	// File-sourced values are installed as defaults, not via v.Set,
	// since viper.Set has the highest precedence of all and would
	// otherwise shadow OVERSEER_* environment overrides.
	if fc, err := readFileConfig(dir); err != nil {
		return nil, err
	} else if fc != nil {
		setDefaultIfNonEmpty(v, "db_path", fc.DBPath)
		setDefaultIfNonEmpty(v, "database", fc.Database)
		setDefaultIfNonEmpty(v, "default_repo", fc.DefaultRepo)
		setDefaultIfNonEmpty(v, "committer_name", fc.CommitterName)
		setDefaultIfNonEmpty(v, "committer_email", fc.CommitterEmail)
		setDefaultIfNonEmpty(v, "output", fc.Output)
	}

	for key, val := range flagOverrides {
		if val != "" {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func readFileConfig(dir string) (*fileConfig, error) {
	path := filepath.Join(dir, ".overseer", configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc, nil
}

func setDefaultIfNonEmpty(v *viper.Viper, key, val string) {
	if val != "" {
		v.SetDefault(key, val)
	}
}
