package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/yourusername/site-monitor/core"
	"gopkg.in/yaml.v3"
)

const (
	envDBPath = "SITEMONITOR_DB_PATH"
	envHost   = "SITEMONITOR_HOST"
	envPort   = "SITEMONITOR_PORT"
	envLevel  = "SITEMONITOR_LOG_LEVEL"
)

// LoadConfig loads configuration from file, creating a default one when the
// file does not exist. Environment overrides from .env and the process
// environment are applied on top.
func LoadConfig(configPath string) (core.Config, error) {
	config := core.GetDefaultConfig()

	// a missing .env is normal
	_ = godotenv.Load()

	expandedPath := core.ExpandPath(configPath)
	data, err := os.ReadFile(expandedPath)
	switch {
	case os.IsNotExist(err):
		if err := createDefaultConfigFile(expandedPath, config); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create default config file: %v\n", err)
		}
	case err != nil:
		return config, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("failed to parse config file %s: %w", expandedPath, err)
		}
	}

	if err := applyEnvOverrides(&config); err != nil {
		return config, err
	}
	if err := core.ValidateConfig(config); err != nil {
		return config, err
	}
	return config, nil
}

// applyEnvOverrides lets deployments change paths and the listen address
// without editing the config file
func applyEnvOverrides(config *core.Config) error {
	if v := os.Getenv(envDBPath); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv(envHost); v != "" {
		config.Web.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return core.NewConfigError("env override", "%s must be a TCP port, got %q", envPort, v)
		}
		config.Web.Port = port
	}
	if v := os.Getenv(envLevel); v != "" {
		config.Log.Level = v
	}
	return nil
}

// createDefaultConfigFile creates a default configuration file
func createDefaultConfigFile(configPath string, config core.Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.WriteString("# 站点监控配置文件\n# Site Monitor Configuration File\n\n"); err != nil {
		return err
	}
	_, err = file.Write(data)
	return err
}
