package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yourusername/site-monitor/core"
	"go.uber.org/zap"
)

// Version is set during build
var Version = "1.0.0"

var (
	configPath string
	dataDir    string
)

var RootCmd = &cobra.Command{
	Use:   "site-monitor",
	Short: "Continuous website monitoring",
	Long: `site-monitor checks registered websites for uptime, performance,
security headers and SEO markup on a schedule and raises alerts when a
target keeps failing.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "~/.site-monitor/config.yaml", "Config file")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (overrides data_dir)")
}

// loadRuntime reads the config and builds the logger the commands share
func loadRuntime() (core.Config, *zap.Logger, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return config, nil, err
	}
	if dataDir != "" {
		config.DataDir = dataDir
	}
	config.DataDir = core.ExpandPath(config.DataDir)

	logger, err := core.NewLogger(config.Log)
	if err != nil {
		return config, nil, err
	}
	return config, logger, nil
}
