package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const queryTimingWindow = 256

// SQLiteStore SQLite存储实现
type SQLiteStore struct {
	db         *sql.DB
	config     StorageConfig
	sqlitePath string
	logger     *zap.Logger

	// 目标读取缓存，命中率由数据库探针上报
	targets     *cache.Cache
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	lockEvents atomic.Int64

	timingMu sync.Mutex
	timings  []time.Duration
	timingAt int
}

// NewSQLiteStore 创建新的SQLite存储实例
func NewSQLiteStore(config StorageConfig, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := config.TargetCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SQLiteStore{
		config:     config,
		sqlitePath: ExpandPath(config.Path),
		logger:     logger.Named("store"),
		targets:    cache.New(ttl, 2*ttl),
		timings:    make([]time.Duration, 0, queryTimingWindow),
	}
}

// Initialize 初始化SQLite存储
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	// 确保目录存在
	dir := filepath.Dir(s.sqlitePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// 打开SQLite数据库，连接参数通过DSN设置，保证连接池中每个连接一致
	db, err := sql.Open("sqlite3", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if s.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.config.MaxOpenConns)
	}
	s.db = db

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect sqlite database: %w", err)
	}

	// 创建表结构
	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	// 创建索引
	if err := s.createIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// dsn 构造连接字符串
func (s *SQLiteStore) dsn() string {
	params := []string{"_foreign_keys=on", "_synchronous=NORMAL"}
	if s.config.BusyTimeoutMS > 0 {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", s.config.BusyTimeoutMS))
	}
	if s.config.WAL {
		params = append(params, "_journal_mode=WAL")
	}
	if s.config.CacheSize > 0 {
		params = append(params, fmt.Sprintf("_cache_size=%d", s.config.CacheSize))
	}
	return "file:" + s.sqlitePath + "?" + strings.Join(params, "&")
}

// createTables 创建数据库表
func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"targets", `
		CREATE TABLE IF NOT EXISTS targets (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			kind TEXT NOT NULL,
			interval_ms INTEGER NOT NULL,
			timeout_ms INTEGER NOT NULL,
			config TEXT NOT NULL,
			failure_threshold INTEGER NOT NULL,
			status TEXT NOT NULL,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_check_at DATETIME,
			last_status TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`},
		{"check_results", `
		CREATE TABLE IF NOT EXISTS check_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target_id TEXT NOT NULL REFERENCES targets(id),
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			response_time_ms INTEGER,
			status_code INTEGER,
			details TEXT,
			error TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			checked_at DATETIME NOT NULL
		);`},
		{"alerts", `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			count INTEGER NOT NULL,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL,
			acknowledged_at DATETIME,
			resolved_at DATETIME
		);`},
		{"metrics", `
		CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			payload TEXT NOT NULL
		);`},
		// 元数据表（用于存储存储信息）
		{"storage_meta", `
		CREATE TABLE IF NOT EXISTS storage_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`},
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", stmt.name, err)
		}
	}

	// 初始化元数据
	s.initMeta(ctx)
	return nil
}

// createIndexes 创建索引
func (s *SQLiteStore) createIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_targets_status ON targets(status)",
		"CREATE INDEX IF NOT EXISTS idx_check_results_target_time ON check_results(target_id, checked_at)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)",
		"CREATE INDEX IF NOT EXISTS idx_metrics_type_time ON metrics(type, timestamp)",
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// initMeta 初始化元数据
func (s *SQLiteStore) initMeta(ctx context.Context) {
	s.db.ExecContext(ctx, "INSERT OR REPLACE INTO storage_meta (key, value) VALUES ('storage_type', 'sqlite')")

	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO storage_meta (key, value) VALUES ('created_at', ?)", time.Now().Format(time.RFC3339)); err != nil {
		s.logger.Warn("failed to set created_at meta", zap.Error(err))
	}
}

// Ping 检查数据库连接
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("SQLite database not initialized")
	}
	defer s.track(time.Now())
	return s.observe(s.db.PingContext(ctx))
}

// CreateTarget 新建监控目标
func (s *SQLiteStore) CreateTarget(ctx context.Context, t *MonitorTarget) error {
	defer s.track(time.Now())
	config, err := encodeCheckConfig(t.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO targets (
			id, owner_id, name, url, kind, interval_ms, timeout_ms, config,
			failure_threshold, status, consecutive_failures, last_check_at, last_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Name, t.URL, string(t.Kind),
		t.Interval.Milliseconds(), t.Timeout.Milliseconds(), config,
		t.FailureThreshold, string(t.Status), t.ConsecutiveFailures,
		nullTime(t.LastCheckAt), string(t.LastStatus), t.CreatedAt, t.UpdatedAt,
	)
	if err := s.observe(err); err != nil {
		return newStorageError("create target", err)
	}
	return nil
}

// UpdateTarget 整体替换目标的可配置字段，不触碰检查状态
func (s *SQLiteStore) UpdateTarget(ctx context.Context, t *MonitorTarget) error {
	defer s.track(time.Now())
	config, err := encodeCheckConfig(t.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE targets SET
			owner_id = ?, name = ?, url = ?, kind = ?, interval_ms = ?, timeout_ms = ?,
			config = ?, failure_threshold = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		t.OwnerID, t.Name, t.URL, string(t.Kind),
		t.Interval.Milliseconds(), t.Timeout.Milliseconds(),
		config, t.FailureThreshold, string(t.Status), t.UpdatedAt, t.ID,
	)
	s.targets.Delete(t.ID)
	if err := s.observe(err); err != nil {
		return newStorageError("update target", err)
	}
	return requireAffected(res, ErrTargetNotFound)
}

// SetTargetStatus 修改目标生命周期状态
func (s *SQLiteStore) SetTargetStatus(ctx context.Context, id string, status TargetStatus, at time.Time) error {
	defer s.track(time.Now())
	res, err := s.db.ExecContext(ctx,
		"UPDATE targets SET status = ?, updated_at = ? WHERE id = ? AND status != ?",
		string(status), at, id, string(TargetStatusDeleted))
	s.targets.Delete(id)
	if err := s.observe(err); err != nil {
		return newStorageError("set target status", err)
	}
	return requireAffected(res, ErrTargetNotFound)
}

const targetColumns = `id, owner_id, name, url, kind, interval_ms, timeout_ms, config,
	failure_threshold, status, consecutive_failures, last_check_at, last_status,
	created_at, updated_at`

// GetTarget 按ID读取目标，优先使用缓存
func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*MonitorTarget, error) {
	if cached, ok := s.targets.Get(id); ok {
		s.cacheHits.Add(1)
		t := *cached.(*MonitorTarget)
		return &t, nil
	}
	s.cacheMisses.Add(1)

	defer s.track(time.Now())
	row := s.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE id = ?", id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err := s.observe(err); err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	cached := *t
	s.targets.SetDefault(id, &cached)
	return t, nil
}

// ListTargets 列出目标
func (s *SQLiteStore) ListTargets(ctx context.Context, statuses ...TargetStatus) ([]*MonitorTarget, error) {
	defer s.track(time.Now())
	query := "SELECT " + targetColumns + " FROM targets"
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err := s.observe(err); err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []*MonitorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}
	return targets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (*MonitorTarget, error) {
	var (
		t                     MonitorTarget
		kind, status, last    string
		config                string
		intervalMS, timeoutMS int64
		lastCheck             sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Name, &t.URL, &kind, &intervalMS, &timeoutMS, &config,
		&t.FailureThreshold, &status, &t.ConsecutiveFailures, &lastCheck, &last,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = CheckKind(kind)
	t.Status = TargetStatus(status)
	t.LastStatus = CheckStatus(last)
	t.Interval = time.Duration(intervalMS) * time.Millisecond
	t.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if lastCheck.Valid {
		at := lastCheck.Time
		t.LastCheckAt = &at
	}
	if t.Config, err = decodeStoredCheckConfig(config); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertResult 保存一条检查结果
func (s *SQLiteStore) InsertResult(ctx context.Context, r CheckResult) error {
	defer s.track(time.Now())
	var details interface{}
	if len(r.Details) > 0 {
		data, err := json.Marshal(r.Details)
		if err != nil {
			return newStorageError("insert result", fmt.Errorf("failed to encode details: %w", err))
		}
		details = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_results (
			target_id, kind, status, response_time_ms, status_code, details, error, error_kind, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TargetID, string(r.Kind), string(r.Status), nullInt64(r.ResponseTimeMS), nullInt(r.StatusCode),
		details, r.Error, string(r.ErrorKind), r.CheckedAt,
	)
	if err := s.observe(err); err != nil {
		return newStorageError("insert result", err)
	}
	return nil
}

// ApplyOutcome 在一个事务中读取上次状态并更新连续失败计数
func (s *SQLiteStore) ApplyOutcome(ctx context.Context, targetID string, status CheckStatus, at time.Time) (OutcomeUpdate, error) {
	defer s.track(time.Now())
	var update OutcomeUpdate

	tx, err := s.db.BeginTx(ctx, nil)
	if err := s.observe(err); err != nil {
		return update, newStorageError("apply outcome", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, "SELECT last_status FROM targets WHERE id = ?", targetID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return update, ErrTargetNotFound
	}
	if err := s.observe(err); err != nil {
		return update, newStorageError("apply outcome", err)
	}

	// 成功清零，其余状态累加
	err = tx.QueryRowContext(ctx, `
		UPDATE targets SET
			consecutive_failures = CASE WHEN ? = 'up' THEN 0 ELSE consecutive_failures + 1 END,
			last_status = ?,
			last_check_at = ?
		WHERE id = ?
		RETURNING consecutive_failures, failure_threshold`,
		string(status), string(status), at, targetID,
	).Scan(&update.Streak, &update.Threshold)
	if err := s.observe(err); err != nil {
		return update, newStorageError("apply outcome", err)
	}

	if err := s.observe(tx.Commit()); err != nil {
		return update, newStorageError("apply outcome", fmt.Errorf("failed to commit transaction: %w", err))
	}
	s.targets.Delete(targetID)
	update.PreviousStatus = CheckStatus(previous)
	return update, nil
}

// ListResults 读取最近的检查结果，按时间倒序
func (s *SQLiteStore) ListResults(ctx context.Context, targetID string, limit int) ([]CheckResult, error) {
	defer s.track(time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, kind, status, response_time_ms, status_code, details, error, error_kind, checked_at
		FROM check_results
		WHERE target_id = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`, targetID, limit)
	if err := s.observe(err); err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []CheckResult
	for rows.Next() {
		var (
			r            CheckResult
			kind, status string
			errKind      string
			rt, code     sql.NullInt64
			details      sql.NullString
		)
		if err := rows.Scan(&r.TargetID, &kind, &status, &rt, &code, &details, &r.Error, &errKind, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Kind = CheckKind(kind)
		r.Status = CheckStatus(status)
		r.ErrorKind = ErrorKind(errKind)
		if rt.Valid {
			v := rt.Int64
			r.ResponseTimeMS = &v
		}
		if code.Valid {
			v := int(code.Int64)
			r.StatusCode = &v
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResultSummary 统计时间窗口内的可用率和平均响应时间
func (s *SQLiteStore) ResultSummary(ctx context.Context, targetID string, since time.Time) (ResultSummary, error) {
	defer s.track(time.Now())
	summary := ResultSummary{TargetID: targetID, Since: since}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END), 0),
			AVG(response_time_ms)
		FROM check_results
		WHERE target_id = ? AND checked_at >= ?`, targetID, since,
	).Scan(&summary.Total, &summary.Up, &avg)
	if err := s.observe(err); err != nil {
		return summary, fmt.Errorf("failed to summarize results: %w", err)
	}
	if summary.Total > 0 {
		summary.UptimePercent = float64(summary.Up) / float64(summary.Total) * 100
	}
	if avg.Valid {
		summary.AvgResponseMS = avg.Float64
	}
	return summary, nil
}

// UpsertAlert 新建或更新告警
func (s *SQLiteStore) UpsertAlert(ctx context.Context, a *Alert) error {
	defer s.track(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, scope, target_id, type, severity, status, message, count,
			first_seen, last_seen, acknowledged_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			message = excluded.message,
			count = excluded.count,
			last_seen = excluded.last_seen,
			acknowledged_at = excluded.acknowledged_at,
			resolved_at = excluded.resolved_at`,
		a.ID, string(a.Scope), a.TargetID, a.Type, string(a.Severity), string(a.Status), a.Message, a.Count,
		a.FirstSeen, a.LastSeen, nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt),
	)
	if err := s.observe(err); err != nil {
		return newStorageError("upsert alert", err)
	}
	return nil
}

// ListAlerts 列出告警，按最近出现时间倒序
func (s *SQLiteStore) ListAlerts(ctx context.Context, statuses ...AlertStatus) ([]*Alert, error) {
	defer s.track(time.Now())
	query := `SELECT id, scope, target_id, type, severity, status, message, count,
		first_seen, last_seen, acknowledged_at, resolved_at FROM alerts`
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY last_seen DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err := s.observe(err); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		var (
			a                       Alert
			scope, severity, status string
			ackAt, resolvedAt       sql.NullTime
		)
		if err := rows.Scan(&a.ID, &scope, &a.TargetID, &a.Type, &severity, &status, &a.Message, &a.Count,
			&a.FirstSeen, &a.LastSeen, &ackAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Scope = AlertScope(scope)
		a.Severity = AlertSeverity(severity)
		a.Status = AlertStatus(status)
		if ackAt.Valid {
			t := ackAt.Time
			a.AcknowledgedAt = &t
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// InsertMetrics 批量写入同一类型的指标
func (s *SQLiteStore) InsertMetrics(ctx context.Context, metricType string, entries []MetricsBufferEntry) error {
	if len(entries) == 0 {
		return nil
	}
	defer s.track(time.Now())

	// 开始事务
	tx, err := s.db.BeginTx(ctx, nil)
	if err := s.observe(err); err != nil {
		return newStorageError("insert metrics", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	// 准备插入语句
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO metrics (id, type, timestamp, payload) VALUES (?, ?, ?, ?)")
	if err := s.observe(err); err != nil {
		return newStorageError("insert metrics", fmt.Errorf("failed to prepare insert statement: %w", err))
	}
	defer stmt.Close()

	// 批量插入记录
	for _, entry := range entries {
		payload, err := json.Marshal(entry.Payload)
		if err != nil {
			return newStorageError("insert metrics", fmt.Errorf("failed to encode payload: %w", err))
		}
		if _, err := stmt.ExecContext(ctx, entry.ID, metricType, entry.Timestamp, string(payload)); s.observe(err) != nil {
			return newStorageError("insert metrics", fmt.Errorf("failed to insert metric: %w", err))
		}
	}

	// 提交事务
	if err := s.observe(tx.Commit()); err != nil {
		return newStorageError("insert metrics", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// GetStorageInfo 获取存储信息
func (s *SQLiteStore) GetStorageInfo(ctx context.Context) StorageInfo {
	info := StorageInfo{
		Type:     "sqlite",
		FilePath: s.sqlitePath,
	}

	// 获取各表记录数
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM targets").Scan(&info.Targets)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM check_results").Scan(&info.Results)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&info.Alerts)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metrics").Scan(&info.Metrics)

	// 获取文件大小
	for _, path := range s.DataFiles() {
		if stat, err := os.Stat(path); err == nil {
			info.TotalSize += stat.Size()
			if stat.ModTime().After(info.LastModified) {
				info.LastModified = stat.ModTime()
			}
		}
	}
	return info
}

// Close 关闭存储
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DBStats 连接池统计
func (s *SQLiteStore) DBStats() sql.DBStats {
	return s.db.Stats()
}

// SampleLatency 执行一次轻量查询并计时
func (s *SQLiteStore) SampleLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var one int
	err := s.observe(s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	elapsed := time.Since(start)
	s.record(elapsed)
	return elapsed, err
}

// RecentQueryTimings 返回最近一段时间的查询耗时
func (s *SQLiteStore) RecentQueryTimings() []time.Duration {
	s.timingMu.Lock()
	defer s.timingMu.Unlock()
	out := make([]time.Duration, len(s.timings))
	copy(out, s.timings)
	return out
}

// LockEvents 累计的 SQLITE_BUSY / SQLITE_LOCKED 次数
func (s *SQLiteStore) LockEvents() int64 {
	return s.lockEvents.Load()
}

// CacheStats 目标缓存命中统计
func (s *SQLiteStore) CacheStats() (hits, misses uint64) {
	return s.cacheHits.Load(), s.cacheMisses.Load()
}

// DataFiles 数据库文件及WAL文件路径
func (s *SQLiteStore) DataFiles() []string {
	return []string{s.sqlitePath, s.sqlitePath + "-wal", s.sqlitePath + "-shm"}
}

// observe 统计锁冲突，原样返回错误
func (s *SQLiteStore) observe(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		s.lockEvents.Add(1)
	}
	return err
}

func (s *SQLiteStore) track(start time.Time) {
	s.record(time.Since(start))
}

func (s *SQLiteStore) record(d time.Duration) {
	s.timingMu.Lock()
	defer s.timingMu.Unlock()
	if len(s.timings) < queryTimingWindow {
		s.timings = append(s.timings, d)
		return
	}
	s.timings[s.timingAt] = d
	s.timingAt = (s.timingAt + 1) % queryTimingWindow
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
