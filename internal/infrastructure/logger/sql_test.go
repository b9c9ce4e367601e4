package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedSQLLogger(level gormlogger.LogLevel, opts ...SQLLoggerOption) (*SQLLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), level, opts...), recorded
}

func statement(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestNewSQLLogger(t *testing.T) {
	l := NewSQLLogger(nil, gormlogger.Warn)
	assert.Equal(t, gormlogger.Warn, l.level)
	assert.Equal(t, defaultSlowThreshold, l.slowThreshold)
	assert.Equal(t, defaultMaxSQLLength, l.maxSQLLength)

	l = NewSQLLogger(zap.NewNop(), gormlogger.Info, WithSlowThreshold(0), WithMaxSQLLength(16))
	assert.Zero(t, l.slowThreshold)
	assert.Equal(t, 16, l.maxSQLLength)
}

func TestSQLLogger_LogModeCopies(t *testing.T) {
	l := NewSQLLogger(zap.NewNop(), gormlogger.Info)
	quiet, ok := l.LogMode(gormlogger.Silent).(*SQLLogger)
	require.True(t, ok)

	assert.Equal(t, gormlogger.Info, l.level)
	assert.Equal(t, gormlogger.Silent, quiet.level)
}

func TestSQLLogger_Trace(t *testing.T) {
	failure := errors.New("UNIQUE constraint failed: measurements.checksum")

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		threshold time.Duration
		begin     time.Duration
		err       error
		wantMsg   string
		wantLevel zapcore.Level
	}{
		{"failed insert", gormlogger.Error, 0, 0, failure, "catalog statement failed", zapcore.ErrorLevel},
		{"failure hidden when silent", gormlogger.Silent, 0, 0, failure, "", 0},
		{"not found is not an error", gormlogger.Error, 0, 0, gormlogger.ErrRecordNotFound, "", 0},
		{"slow statement", gormlogger.Warn, time.Millisecond, time.Second, nil, "slow catalog statement", zapcore.WarnLevel},
		{"slow hidden at error level", gormlogger.Error, time.Millisecond, time.Second, nil, "", 0},
		{"trace at info", gormlogger.Info, 0, 0, nil, "catalog statement", zapcore.DebugLevel},
		{"no trace at warn", gormlogger.Warn, time.Hour, 0, nil, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, recorded := newObservedSQLLogger(tt.level, WithSlowThreshold(tt.threshold))
			l.Trace(context.Background(), time.Now().Add(-tt.begin),
				statement(`INSERT INTO "measurements" ("id") VALUES ('a')`, 1), tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, recorded.Len())
				return
			}
			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, "catalog", entry.LoggerName)
			assert.Equal(t, "insert", entry.ContextMap()["op"])
			assert.Equal(t, int64(1), entry.ContextMap()["rows"])
		})
	}
}

func TestSQLLogger_TraceCarriesImportContext(t *testing.T) {
	l, recorded := newObservedSQLLogger(gormlogger.Info)

	ctx := WithJobID(context.Background(), "job-7")
	ctx = WithSource(ctx, "s3://cells/cv/run1.mpt")
	ctx = WithMeasurementID(ctx, "3f0c")
	l.Trace(ctx, time.Now(), statement(`SELECT * FROM "measurements" WHERE checksum = ?`, 0), nil)

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "job-7", fields["job_id"])
	assert.Equal(t, "s3://cells/cv/run1.mpt", fields["source"])
	assert.Equal(t, "3f0c", fields["measurement_id"])
	assert.Equal(t, "select", fields["op"])
}

func TestSQLLogger_TruncatesLongStatements(t *testing.T) {
	l, recorded := newObservedSQLLogger(gormlogger.Info, WithMaxSQLLength(10))
	l.Trace(context.Background(), time.Now(), statement("DELETE FROM analysis_results WHERE 1=1", 3), nil)

	require.Equal(t, 1, recorded.Len())
	sql := recorded.All()[0].ContextMap()["sql"].(string)
	assert.Equal(t, "DELETE FRO...", sql)
	assert.Equal(t, "delete", recorded.All()[0].ContextMap()["op"])
}

func TestSQLLogger_Messages(t *testing.T) {
	l, recorded := newObservedSQLLogger(gormlogger.Warn)
	ctx := WithSource(context.Background(), "data/eis.csv")

	l.Info(ctx, "opened %s", "catalog.db")
	l.Warn(ctx, "pool at %d connections", 1)
	l.Error(ctx, "migration %d dirty", 2)

	require.Equal(t, 2, recorded.Len())
	assert.Equal(t, "pool at 1 connections", recorded.All()[0].Message)
	assert.Equal(t, "migration 2 dirty", recorded.All()[1].Message)
	assert.Equal(t, "data/eis.csv", recorded.All()[1].ContextMap()["source"])
}

func TestSQLLevel(t *testing.T) {
	tests := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		"info":    gormlogger.Warn,
		" DEBUG ": gormlogger.Info,
		"":        gormlogger.Warn,
		"verbose": gormlogger.Warn,
	}
	for in, want := range tests {
		assert.Equal(t, want, SQLLevel(in), "level %q", in)
	}
}

func TestStatementVerb(t *testing.T) {
	assert.Equal(t, "select", statementVerb("  SELECT count(*) FROM measurements"))
	assert.Equal(t, "pragma", statementVerb("PRAGMA foreign_keys = ON"))
	assert.Equal(t, "", statementVerb(""))
	assert.True(t, strings.HasPrefix(statementVerb("insert(x)"), "insert"))
}
