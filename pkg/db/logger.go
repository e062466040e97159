package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// gormZapLogger routes gorm's query log through the global zap logger so
// database lines carry the same structure as the rest of the process.
type gormZapLogger struct {
	zap           *zap.Logger
	slowThreshold time.Duration
	level         logger.LogLevel
	showSQL       bool
}

func NewZapGormLogger(z *zap.Logger, level logger.LogLevel, showSQL bool) logger.Interface {
	return &gormZapLogger{
		zap:           z,
		level:         level,
		showSQL:       showSQL,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *gormZapLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormZapLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.zap.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormZapLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.zap.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormZapLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.zap.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormZapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Float64("duration_ms", float64(elapsed.Microseconds()) / 1000),
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		l.zap.Error("db.query", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.zap.Warn("db.slow_query", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level == logger.Info && l.showSQL:
		l.zap.Info("db.query", fields...)
	}
}
