package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 结果库连接
// =============================================================================

// ErrClosed 连接已关闭
var ErrClosed = errors.New("database: closed")

// PoolConfig 结果库连接池参数
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultPoolConfig 评测结果写入量小，默认池很小
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DB 评测结果库：GORM 句柄、连接池与带重试的事务
type DB struct {
	gorm   *gorm.DB
	sql    *sql.DB
	driver string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func dialector(driverName, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driverName) {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		// 纯 Go 实现，无需 cgo
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
}

// Connect 打开 postgres、mysql 或 sqlite 结果库并应用连接池参数
func Connect(driverName, dsn string, pool PoolConfig, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dialector(driverName, dsn)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(d, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	logger.Info("result database connected",
		zap.String("driver", driverName),
		zap.Int("max_open_conns", pool.MaxOpenConns),
		zap.Int("max_idle_conns", pool.MaxIdleConns),
	)
	return &DB{
		gorm:   gdb,
		sql:    sqlDB,
		driver: strings.ToLower(driverName),
		logger: logger.With(zap.String("component", "result_db")),
	}, nil
}

// Driver 返回规范化的驱动名，用作指标标签
func (d *DB) Driver() string { return d.driver }

// session 返回绑定 ctx 的 GORM 会话
func (d *DB) session(ctx context.Context) (*gorm.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	return d.gorm.WithContext(ctx), nil
}

// Ping 用于 /v1/ready 的就绪检查
func (d *DB) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return d.sql.PingContext(ctx)
}

// StatsCollector 以 go_sql_* 指标导出连接池状态，db_name 标签为 name
func (d *DB) StatsCollector(name string) prometheus.Collector {
	return collectors.NewDBStatsCollector(d.sql, name)
}

// Close 可重复调用
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("closing result database")
	return d.sql.Close()
}

// =============================================================================
// 🔄 事务
// =============================================================================

// Transact 在事务中执行 fn。锁冲突和断连会以 100ms 起的指数退避重试，
// 最多 attempts 次；其它错误立即返回。
func (d *DB) Transact(ctx context.Context, attempts int, fn func(tx *gorm.DB) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := range attempts {
		db, err := d.session(ctx)
		if err != nil {
			return err
		}
		lastErr = db.Transaction(fn)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || i == attempts-1 {
			break
		}

		d.logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<i) * 100 * time.Millisecond):
		}
	}
	if retryable(lastErr) {
		return fmt.Errorf("transaction failed after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}

// retryableMarkers 各驱动的锁冲突与断连错误文本
var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"could not serialize",
	"40001",
	"lock wait timeout",
	"lock timeout",
	"database is locked", // sqlite SQLITE_BUSY
	"connection reset",
	"connection refused",
	"broken pipe",
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
