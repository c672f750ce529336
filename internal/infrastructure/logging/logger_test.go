package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestLogger_EmitsFields(t *testing.T) {
	log, logs := newObserved(zapcore.DebugLevel)

	log.Info("group processed",
		String("receptor", "1a0q"),
		Int("size", 8),
		Float64("elapsed_ms", 12.5),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "group processed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "1a0q", ctx["receptor"])
	assert.Equal(t, int64(8), ctx["size"])
	assert.Equal(t, 12.5, ctx["elapsed_ms"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	log, logs := newObserved(zapcore.WarnLevel)

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("svd skipped")

	require.Len(t, logs.All(), 1)
	assert.Equal(t, "svd skipped", logs.All()[0].Message)
}

func TestLogger_WithAttachesFields(t *testing.T) {
	log, logs := newObserved(zapcore.InfoLevel)

	child := log.With(String("run_id", "abc123"))
	child.Info("resume skip-set loaded", Int("skipped", 3))

	require.Len(t, logs.All(), 1)
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "abc123", ctx["run_id"])
	assert.Equal(t, int64(3), ctx["skipped"])
}

func TestErrField(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
	assert.Equal(t, "boom", Err(errors.New("boom")).Value)
}

func TestParseLevel_Defaults(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("ERROR"))
}

func TestNewLogger_DefaultsApplied(t *testing.T) {
	log, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestSetLevel_AdjustsRunningLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "error", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	zl, ok := log.(*zapLogger)
	require.True(t, ok)
	require.NotNil(t, zl.lvl)
	assert.Equal(t, zapcore.ErrorLevel, zl.lvl.Level())

	assert.True(t, SetLevel(log, "debug"))
	assert.Equal(t, zapcore.DebugLevel, zl.lvl.Level())

	// Children share the level, so adjusting through one reaches all.
	assert.True(t, SetLevel(log.Named("inference").With(String("run_id", "r1")), "warn"))
	assert.Equal(t, zapcore.WarnLevel, zl.lvl.Level())
}

func TestSetLevel_UnsupportedLoggers(t *testing.T) {
	assert.False(t, SetLevel(NewNopLogger(), "debug"))

	fixed, _ := newObserved(zapcore.InfoLevel)
	assert.False(t, SetLevel(fixed, "debug"), "a fixed-core logger has no adjustable level")
}

func TestNopLogger_IsSilentAndChainable(t *testing.T) {
	log := NewNopLogger()
	child := log.With(Duration("d", time.Second)).Named("x")
	child.Info("ignored")
	child.Error("ignored")
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	before := Default()
	SetDefault(nil)
	assert.Equal(t, before, Default())
}
