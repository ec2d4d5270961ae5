package config

import (
	"errors"
	"os"
	"tether/internal/types"

	"github.com/goccy/go-yaml"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	EnvFileKey = "ENV_FILE"
	PathEnvKey = "TETHER_CONFIG"
)

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file at path (skipped when empty), and TETHER_* environment
// variables. A .env file (or the one named by ENV_FILE) is loaded into the
// environment first; variables already set are not overridden.
func Load(path string) (types.Config, error) {
	loadDotEnv()

	var cfg types.Config
	if path == "" {
		path = os.Getenv(PathEnvKey)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, types.Err(types.ErrInvalidConfig, err, "read %s", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, types.Err(types.ErrInvalidConfig, err, "parse %s", path)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, types.Err(types.ErrInvalidConfig, err, "environment")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "")
	}
	return cfg, nil
}

func loadDotEnv() {
	envFile := os.Getenv(EnvFileKey)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.WithField("file", envFile).Debug("no env file loaded")
	}
}

// SetupLogging applies the configured level and formatter to the standard logger.
func SetupLogging(cfg types.Config) error {
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return types.Err(types.ErrInvalidConfig, err, "log_level")
	}
	log.SetLevel(lvl)
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
