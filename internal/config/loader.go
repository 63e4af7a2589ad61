package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "KMATCH"

// newViper builds a Viper instance with YAML file type, KMATCH_ env prefix,
// automatic env binding and a "." to "_" key replacer so that "scorer.base_url"
// resolves to KMATCH_SCORER_BASE_URL.
//
// AutomaticEnv only consults keys viper already knows about, so every leaf key
// is registered through SetDefault even when the zero value is wanted.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"server.host", "server.port", "server.mode", "server.rate_limit.requests_per_second", "server.rate_limit.burst",
		"log.level", "log.format",
		"redis.addr", "redis.username", "redis.password", "redis.db", "redis.mode", "redis.master_name",
		"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.prefix", "minio.use_ssl", "minio.region",
		"scorer.base_url", "scorer.timeout", "scorer.max_retries",
		"models.source", "models.file",
		"reference.source", "reference.dir", "reference.base_url",
		"scoring.sample_size", "scoring.batch_size", "scoring.max_concurrency", "scoring.seed", "scoring.breaker_threshold",
		"similarity.lower_percentile", "similarity.upper_percentile", "similarity.mode", "similarity.top_k",
		"embedding.backend", "embedding.base_url", "embedding.max_points", "embedding.seed",
		"metrics.namespace",
	} {
		v.SetDefault(key, nil)
	}
	v.SetDefault("redis.enabled", false)
	v.SetDefault("metrics.enabled", true)
	return v
}

// loadDotEnv reads a .env file from the working directory into the process
// environment.  Variables already set are not overwritten, and a missing file
// is not an error.
func loadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: failed to read .env: %w", err)
	}
	return nil
}

// Load reads the YAML file at configPath, merges .env and KMATCH_* overrides,
// applies defaults for unset fields and validates the result.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from .env and KMATCH_* environment
// variables, with no config file required.
//
//	KMATCH_<SECTION>_<FIELD>   e.g.  KMATCH_SCORER_BASE_URL, KMATCH_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the newly parsed Config
// whenever the file changes.  Only hot-reloadable settings (log level,
// similarity tuning, scoring sample size) should be applied by the callback.
// A change that fails to parse or validate is reported to onError and
// onChange is skipped.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad wraps Load and panics on any error.  For use in main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
