package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultSlowThreshold = 200 * time.Millisecond
	defaultMaxSQLLength  = 2048
)

// SQLLogger writes catalog statements to zap. Job, measurement and source
// values on the statement context are attached to every entry, so the SQL an
// import issues can be traced back to the file that caused it.
type SQLLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	maxSQLLength  int
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// SQLLoggerOption configures a SQLLogger
type SQLLoggerOption func(*SQLLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow.
// Zero disables slow statement warnings.
func WithSlowThreshold(d time.Duration) SQLLoggerOption {
	return func(l *SQLLogger) {
		l.slowThreshold = d
	}
}

// WithMaxSQLLength truncates logged statements to n bytes. Zero keeps them whole.
func WithMaxSQLLength(n int) SQLLoggerOption {
	return func(l *SQLLogger) {
		l.maxSQLLength = n
	}
}

// NewSQLLogger creates a catalog SQL logger at the given gorm level
func NewSQLLogger(base *zap.Logger, level gormlogger.LogLevel, opts ...SQLLoggerOption) *SQLLogger {
	if base == nil {
		base = zap.NewNop()
	}
	l := &SQLLogger{
		logger:        base.Named("catalog"),
		level:         level,
		slowThreshold: defaultSlowThreshold,
		maxSQLLength:  defaultMaxSQLLength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SQLLevel maps an application log level to the gorm level used for the
// catalog. Statements are only traced at debug.
func SQLLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.with(ctx).Sugar().Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.with(ctx).Sugar().Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.with(ctx).Sugar().Errorf(msg, data...)
	}
}

// Trace logs a finished statement. Failed statements are errors, except
// lookups that found nothing, which the repositories map to ErrNotFound.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	switch {
	case err != nil && l.level >= gormlogger.Error:
	case slow && l.level >= gormlogger.Warn:
	case l.level >= gormlogger.Info:
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("op", statementVerb(sql)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", l.truncate(sql)),
	}
	log := l.with(ctx)

	switch {
	case err != nil:
		log.Error("catalog statement failed", append(fields, zap.Error(err))...)
	case slow:
		log.Warn("slow catalog statement", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	default:
		log.Debug("catalog statement", fields...)
	}
}

func (l *SQLLogger) with(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.logger
	}
	if fields := contextFields(ctx); len(fields) > 0 {
		return l.logger.With(fields...)
	}
	return l.logger
}

func (l *SQLLogger) truncate(sql string) string {
	if l.maxSQLLength <= 0 || len(sql) <= l.maxSQLLength {
		return sql
	}
	return sql[:l.maxSQLLength] + "..."
}

// statementVerb returns the lower-cased leading keyword of a statement
func statementVerb(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \t\n("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToLower(sql)
}
