// Package config reads the deployer settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/ridoystarlord/schemadeploy/schema"
)

type Config struct {
	DatabaseURL string
	// Instance identifies this deployer in lock rows.
	Instance     string
	LockName     string
	LockLease    time.Duration
	LockTimeout  time.Duration
	Capabilities string
	LogLevel     string
	SchemaFile   string
	ProjectID    string
	Stage        string
}

// Load reads .env (when present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, continuing")
	}

	host, _ := os.Hostname()
	return Config{
		DatabaseURL:  cast.ToString(getOrReturnDefaultValue("DATABASE_URL", "")),
		Instance:     cast.ToString(getOrReturnDefaultValue("DEPLOY_INSTANCE", host)),
		LockName:     cast.ToString(getOrReturnDefaultValue("DEPLOY_LOCK_NAME", "deploy")),
		LockLease:    cast.ToDuration(getOrReturnDefaultValue("DEPLOY_LOCK_LEASE", "30s")),
		LockTimeout:  cast.ToDuration(getOrReturnDefaultValue("DEPLOY_LOCK_TIMEOUT", "1m")),
		Capabilities: cast.ToString(getOrReturnDefaultValue("CAPABILITIES", "")),
		LogLevel:     cast.ToString(getOrReturnDefaultValue("LOG_LEVEL", "info")),
		SchemaFile:   cast.ToString(getOrReturnDefaultValue("SCHEMA_FILE", "schema.yaml")),
		ProjectID:    cast.ToString(getOrReturnDefaultValue("PROJECT_ID", "default")),
		Stage:        cast.ToString(getOrReturnDefaultValue("STAGE", "")),
	}
}

// CapabilitySet parses the configured capability list.
func (c Config) CapabilitySet() (schema.CapabilitySet, error) {
	return schema.ParseCapabilities(c.Capabilities)
}

func getOrReturnDefaultValue(key string, defaultValue any) any {
	val, exists := os.LookupEnv(key)
	if exists {
		return val
	}
	return defaultValue
}
