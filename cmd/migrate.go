package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourusername/site-monitor/core"
	"go.uber.org/zap"
)

// csv 列顺序
var targetCSVHeader = []string{"owner_id", "name", "url", "kind", "interval_seconds", "timeout_seconds", "failure_threshold"}

// Migration 目标导入管理器：初始化数据库结构并从CSV导入监控目标
type Migration struct {
	config  core.Config
	csvFile string
	backup  bool
	verbose bool
	logger  *zap.Logger
}

// MigrationReport 迁移结果
type MigrationReport struct {
	Imported int
	Skipped  int
	Failed   []string
}

// NewMigration 创建新的迁移实例
func NewMigration(config core.Config, csvFile string, backup, verbose bool, logger *zap.Logger) *Migration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migration{
		config:  config,
		csvFile: csvFile,
		backup:  backup,
		verbose: verbose,
		logger:  logger,
	}
}

// Run 执行迁移
func (m *Migration) Run(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport
	dbPath := core.ExpandPath(m.config.Storage.Path)

	// 备份现有数据库
	if m.backup {
		if _, err := os.Stat(dbPath); err == nil {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			if err := copyFile(dbPath, backupPath); err != nil {
				m.logger.Warn("备份数据库失败", zap.Error(err))
			} else {
				m.logger.Info("数据库已备份", zap.String("path", backupPath))
			}
		}
	}

	app, err := core.NewApp(m.config, core.AppOptions{Logger: m.logger, Notifiers: map[string]core.Notifier{}})
	if err != nil {
		return report, err
	}
	// Initialize 会创建或升级表结构
	if err := app.Initialize(ctx); err != nil {
		return report, fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer app.Stop()

	if m.csvFile == "" {
		m.logger.Info("数据库结构已就绪", zap.String("path", dbPath))
		return report, nil
	}

	specs, err := m.readCSV()
	if err != nil {
		return report, fmt.Errorf("读取CSV失败: %w", err)
	}

	// 已存在的 owner+url 组合不重复导入
	existing, err := app.ListTargets(ctx, core.TargetStatusActive, core.TargetStatusPaused)
	if err != nil {
		return report, fmt.Errorf("读取现有目标失败: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.OwnerID+"|"+t.URL] = true
	}

	for i, row := range specs {
		if row.err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("line %d: %v", row.line, row.err))
			continue
		}
		key := row.spec.OwnerID + "|" + row.spec.URL
		if seen[key] {
			report.Skipped++
			continue
		}
		id, err := app.RegisterTarget(ctx, row.spec)
		if err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("line %d: %v", row.line, err))
			continue
		}
		seen[key] = true
		report.Imported++
		if m.verbose {
			m.logger.Info("已导入目标", zap.Int("row", i+1), zap.String("id", id), zap.String("url", row.spec.URL))
		}
	}
	return report, nil
}

type csvRow struct {
	line int
	spec core.TargetSpec
	err  error
}

// readCSV 读取CSV记录，首行必须是表头
func (m *Migration) readCSV() ([]csvRow, error) {
	file, err := os.Open(m.csvFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("缺少表头: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range targetCSVHeader[:6] {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("表头缺少列 %q", required)
		}
	}

	var rows []csvRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rows = append(rows, csvRow{line: line, err: err})
			continue
		}
		spec, err := parseTargetRecord(record, columns)
		rows = append(rows, csvRow{line: line, spec: spec, err: err})
	}
	return rows, nil
}

// parseTargetRecord 把一行CSV转换为目标定义
func parseTargetRecord(record []string, columns map[string]int) (core.TargetSpec, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	interval, err := strconv.Atoi(field("interval_seconds"))
	if err != nil {
		return core.TargetSpec{}, fmt.Errorf("interval_seconds: %w", err)
	}
	timeout, err := strconv.Atoi(field("timeout_seconds"))
	if err != nil {
		return core.TargetSpec{}, fmt.Errorf("timeout_seconds: %w", err)
	}
	threshold := 0
	if raw := field("failure_threshold"); raw != "" {
		if threshold, err = strconv.Atoi(raw); err != nil {
			return core.TargetSpec{}, fmt.Errorf("failure_threshold: %w", err)
		}
	}

	kind := core.CheckKind(field("kind"))
	spec := core.TargetSpec{
		OwnerID:          field("owner_id"),
		Name:             field("name"),
		URL:              field("url"),
		Kind:             kind,
		Interval:         time.Duration(interval) * time.Second,
		Timeout:          time.Duration(timeout) * time.Second,
		FailureThreshold: threshold,
		Config:           core.DefaultCheckConfig(kind),
	}
	if err := core.ValidateTargetSpec(spec); err != nil {
		return core.TargetSpec{}, err
	}
	return spec, nil
}

// copyFile 复制文件
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

var (
	migrateCSV     string
	migrateBackup  bool
	migrateVerbose bool
)

var MigrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Create or upgrade the database and optionally import targets from CSV",
	Example: `site-monitor migrate --import targets.csv --backup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		report, err := NewMigration(config, migrateCSV, migrateBackup, migrateVerbose, logger).Run(cmd.Context())
		if err != nil {
			return err
		}
		if migrateCSV != "" {
			cmd.Printf("✅ 导入完成: 新增 %d, 跳过 %d, 失败 %d\n", report.Imported, report.Skipped, len(report.Failed))
			for _, f := range report.Failed {
				cmd.Printf("  ❌ %s\n", f)
			}
		} else {
			cmd.Println("✅ 数据库结构已就绪")
		}
		return nil
	},
}

func init() {
	MigrateCmd.Flags().StringVar(&migrateCSV, "import", "", "CSV file of targets to import ("+strings.Join(targetCSVHeader, ",")+")")
	MigrateCmd.Flags().BoolVar(&migrateBackup, "backup", true, "Back up the database before migrating")
	MigrateCmd.Flags().BoolVarP(&migrateVerbose, "verbose", "v", false, "Log every imported target")

	RootCmd.AddCommand(MigrateCmd)
}
