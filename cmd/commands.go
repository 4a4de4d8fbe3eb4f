package cmd

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourusername/site-monitor/core"
)

var (
	noWeb        bool
	stopTimeout  time.Duration
	checkKind    string
	checkTimeout time.Duration
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start monitoring in the foreground",
	Long:  `Start the monitoring engine and, unless --no-web is given, the HTTP API and dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		return runMonitor(config, logger, config.Web.Enabled && !noWeb)
	},
}

var WebCmd = &cobra.Command{
	Use:   "web",
	Short: "Start monitoring with the HTTP API and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		return runMonitor(config, logger, true)
	},
}

var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		daemon := core.NewDaemonManager(resolveDataDir(config))
		if err := daemon.Stop(stopTimeout); err != nil {
			if errors.Is(err, core.ErrNotRunning) {
				cmd.Println("监控未运行")
				return nil
			}
			return err
		}
		cmd.Println("✅ 监控已停止")
		return nil
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the monitor is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		daemon := core.NewDaemonManager(resolveDataDir(config))
		status, pid, err := daemon.GetStatus()
		if err != nil {
			return err
		}
		switch status {
		case "running":
			cmd.Printf("🟢 运行中 (PID %d)\n", pid)
			cmd.Printf("   Dashboard: http://%s:%d/dashboard\n", config.Web.Host, config.Web.Port)
		case "stale":
			cmd.Printf("🟡 PID 文件残留 (PID %d 已退出): %s\n", pid, daemon.PIDFile())
		default:
			cmd.Println("⚪ 未运行")
		}
		return nil
	},
}

var CheckCmd = &cobra.Command{
	Use:     "check <url>",
	Short:   "Run a single check against a URL and print the result",
	Example: `site-monitor check https://example.com --kind security`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		kind := core.CheckKind(checkKind)
		spec := core.TargetSpec{
			OwnerID:  "cli",
			Name:     args[0],
			URL:      args[0],
			Kind:     kind,
			Interval: checkTimeout + time.Minute,
			Timeout:  checkTimeout,
			Config:   core.DefaultCheckConfig(kind),
		}
		if err := core.ValidateTargetSpec(spec); err != nil {
			return err
		}

		executor := core.NewHTTPExecutor(config.Executor, core.ExecutorOptions{})
		result := executor.Execute(context.Background(), core.MonitorTarget{
			ID:      "cli",
			Name:    spec.Name,
			URL:     spec.URL,
			Kind:    spec.Kind,
			Timeout: spec.Timeout,
			Config:  spec.Config,
		})
		printResult(cmd, result)
		if result.Failed() {
			os.Exit(2)
		}
		return nil
	},
}

func printResult(cmd *cobra.Command, r core.CheckResult) {
	icon := "✅"
	if r.Failed() {
		icon = "❌"
	}
	cmd.Printf("%s %s (%s)\n", icon, strings.ToUpper(string(r.Status)), r.Kind)
	if r.StatusCode != nil {
		cmd.Printf("  HTTP 状态: %d\n", *r.StatusCode)
	}
	if r.ResponseTimeMS != nil {
		cmd.Printf("  响应时间: %dms\n", *r.ResponseTimeMS)
	}
	if r.Error != "" {
		cmd.Printf("  错误: %s (%s)\n", r.Error, r.ErrorKind)
	}
	keys := make([]string, 0, len(r.Details))
	for k := range r.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Printf("  %s: %v\n", k, r.Details[k])
	}
}

// resolveDataDir applies the --data-dir flag
func resolveDataDir(config core.Config) string {
	if dataDir != "" {
		return core.ExpandPath(dataDir)
	}
	return core.ExpandPath(config.DataDir)
}

func init() {
	StartCmd.Flags().BoolVar(&noWeb, "no-web", false, "Do not start the HTTP API and dashboard")
	StopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long to wait for the monitor to exit")
	CheckCmd.Flags().StringVarP(&checkKind, "kind", "k", string(core.CheckKindUptime), "Check kind: uptime, performance, security, seo")
	CheckCmd.Flags().DurationVarP(&checkTimeout, "timeout", "t", 10*time.Second, "Check timeout")

	RootCmd.AddCommand(StartCmd, WebCmd, StopCmd, StatusCmd, CheckCmd)
}
