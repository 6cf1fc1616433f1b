package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/raja-9679/TraceIQ-sub000/internal/ctxkeys"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
)

// defaultSlowThreshold 超过该耗时的 SQL 记为慢查询
const defaultSlowThreshold = 500 * time.Millisecond

// GormLogger 把 gorm 日志转到应用日志上，带上下文中的追踪ID
type GormLogger struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 gorm 日志桥
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{
		log:           logger.OrNop(l),
		level:         gormlogger.Warn,
		slowThreshold: defaultSlowThreshold,
	}
}

// LogMode 返回指定级别的副本
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) with(ctx context.Context) logger.Logger {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return l.log.With("traceId", id)
	}
	return l.log
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.with(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.with(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.with(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录 SQL，未找到记录不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	log := l.with(ctx)
	fields := []any{"sql", sql, "rows", rows, "timeMs", float64(elapsed.Nanoseconds()) / 1e6}

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		log.Err(err, "SQL执行错误", fields...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		log.Warn("慢SQL查询", append(fields, "threshold", l.slowThreshold.String())...)
	case l.level == gormlogger.Info:
		log.Debug("SQL执行", fields...)
	}
}
