package core

import (
	"context"
	"database/sql"
	"time"
)

// Store 定义了监控引擎的持久化接口
// 保存目标、检查结果、告警和指标数据
type Store interface {
	// Initialize 初始化存储（建表、建索引）
	Initialize(ctx context.Context) error

	// Close 关闭存储并清理资源
	Close() error

	// Ping 检查存储是否可达
	Ping(ctx context.Context) error

	// CreateTarget 新建监控目标
	CreateTarget(ctx context.Context, target *MonitorTarget) error

	// UpdateTarget 整体替换目标的可配置字段
	UpdateTarget(ctx context.Context, target *MonitorTarget) error

	// SetTargetStatus 修改目标生命周期状态（暂停、恢复、软删除）
	SetTargetStatus(ctx context.Context, id string, status TargetStatus, at time.Time) error

	// GetTarget 按ID读取目标
	GetTarget(ctx context.Context, id string) (*MonitorTarget, error)

	// ListTargets 列出目标，可按状态过滤
	ListTargets(ctx context.Context, statuses ...TargetStatus) ([]*MonitorTarget, error)

	// InsertResult 保存一条检查结果
	InsertResult(ctx context.Context, result CheckResult) error

	// ApplyOutcome 原子地更新连续失败计数和最近检查信息
	ApplyOutcome(ctx context.Context, targetID string, status CheckStatus, at time.Time) (OutcomeUpdate, error)

	// ListResults 读取目标最近的检查结果
	ListResults(ctx context.Context, targetID string, limit int) ([]CheckResult, error)

	// ResultSummary 统计目标在时间窗口内的结果
	ResultSummary(ctx context.Context, targetID string, since time.Time) (ResultSummary, error)

	// UpsertAlert 新建或更新告警
	UpsertAlert(ctx context.Context, alert *Alert) error

	// ListAlerts 列出告警，可按状态过滤
	ListAlerts(ctx context.Context, statuses ...AlertStatus) ([]*Alert, error)

	// InsertMetrics 批量写入同一类型的指标
	InsertMetrics(ctx context.Context, metricType string, entries []MetricsBufferEntry) error

	// GetStorageInfo 获取存储信息
	GetStorageInfo(ctx context.Context) StorageInfo
}

// StoreDiagnostics 存储自身的运行状态，供数据库探针读取
type StoreDiagnostics interface {
	DBStats() sql.DBStats
	SampleLatency(ctx context.Context) (time.Duration, error)
	RecentQueryTimings() []time.Duration
	LockEvents() int64
	CacheStats() (hits, misses uint64)
	DataFiles() []string
}

// ResultSummary 结果统计
type ResultSummary struct {
	TargetID      string    `json:"target_id"`
	Since         time.Time `json:"since"`
	Total         int       `json:"total"`
	Up            int       `json:"up"`
	UptimePercent float64   `json:"uptime_percent"`
	AvgResponseMS float64   `json:"avg_response_ms"`
}

// StorageInfo 存储信息
type StorageInfo struct {
	Type         string    `json:"type"`          // 存储类型
	Targets      int       `json:"targets"`       // 目标数
	Results      int       `json:"results"`       // 检查结果数
	Alerts       int       `json:"alerts"`        // 告警数
	Metrics      int       `json:"metrics"`       // 指标数
	TotalSize    int64     `json:"total_size"`    // 总大小（字节）
	FilePath     string    `json:"file_path"`     // 文件路径
	LastModified time.Time `json:"last_modified"` // 最后修改时间
}
