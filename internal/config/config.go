package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	TerraformBin     string
	TerraformVersion string
	WorkDir          string
	LockTimeout      time.Duration
	HistoryDB        string
	ConfigFile       string
	AzureStorageKey  string
	NewRelicLicense  string
	NewRelicAppName  string
	NewRelicEnabled  bool
}

func Load() *Config {
	lockTimeoutStr := getEnv("LOCK_TIMEOUT", "120s")
	lockTimeout, err := time.ParseDuration(lockTimeoutStr)
	if err != nil {
		lockTimeout = 120 * time.Second
	}

	newRelicEnabledStr := getEnv("NEW_RELIC_ENABLED", "false")
	newRelicEnabled, err := strconv.ParseBool(newRelicEnabledStr)
	if err != nil {
		newRelicEnabled = false
	}

	return &Config{
		TerraformBin:     getEnv("TERRAFORM_BIN", "terraform"),
		TerraformVersion: getEnv("TERRAFORM_VERSION", "1.5.0"),
		WorkDir:          getEnv("WORK_DIR", "."),
		LockTimeout:      lockTimeout,
		HistoryDB:        getEnv("HISTORY_DB", "./deploy-history.db"),
		ConfigFile:       getEnv("DEPLOY_CONFIG_FILE", ""),
		AzureStorageKey:  getEnv("AZURE_STORAGE_KEY", ""),
		NewRelicLicense:  getEnv("NEW_RELIC_LICENSE_KEY", ""),
		NewRelicAppName:  getEnv("NEW_RELIC_APP_NAME", "multicloud-deploy"),
		NewRelicEnabled:  newRelicEnabled,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
