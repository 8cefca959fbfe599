package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitTestLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "debug", Format: FormatJSON})
	require.NoError(t, err)
	require.NotNil(t, props)
	assert.Equal(t, zapcore.DebugLevel, props.Level.Level())
	lg.Debug("hello", FieldModule("serde"), FieldSchemaID(3))
}

func TestInitLoggerBadLevel(t *testing.T) {
	_, _, err := InitTestLogger(t, &Config{Level: "nope"})
	assert.Error(t, err)
}

func TestInitLoggerRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, _, err := InitLogger(&Config{Level: "info", File: FileLogConfig{RootPath: dir, Filename: "."}})
	assert.Error(t, err)
}

func TestReplaceGlobalsAndLevel(t *testing.T) {
	oldL, oldP := L(), _globalP.Load().(*ZapProperties)
	defer ReplaceGlobals(oldL, oldP)

	lg, props, err := InitTestLogger(t, &Config{Level: "info"})
	require.NoError(t, err)
	ReplaceGlobals(lg, props)

	assert.Equal(t, zapcore.InfoLevel, GetLevel())
	SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, Level().Level())
	Info("dropped")
	Warn("kept")
}

func TestStdLoggerInstallsWithoutErrors(t *testing.T) {
	oldL, oldP := L(), _globalP.Load().(*ZapProperties)
	defer ReplaceGlobals(oldL, oldP)

	var errOut bytes.Buffer
	installStdLogger(zap.ErrorOutput(zapcore.AddSync(&errOut)))
	assert.Equal(t, zapcore.InfoLevel, GetLevel())
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))

	// 调低级别后，分级 Logger 仍然可以输出 debug。
	SetLevel(zapcore.DebugLevel)
	l, ok := _globalLevelLogger.Load(zapcore.DebugLevel)
	require.True(t, ok)
	assert.True(t, l.(*zap.Logger).Core().Enabled(zapcore.DebugLevel))
	assert.Empty(t, errOut.String())
}

func TestCtxLogger(t *testing.T) {
	ctx := WithModule(context.Background(), "pool")
	l := Ctx(ctx)
	assert.Same(t, l, Ctx(ctx))

	assert.NotNil(t, Ctx(nil))
	assert.NotNil(t, Ctx(context.Background()))

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	traced := trace.ContextWithSpanContext(context.Background(), sc)
	assert.NotNil(t, Ctx(traced).Logger)
}

func TestRatedLogger(t *testing.T) {
	l := With(zap.String("k", "v")).WithRateGroup("test_rated", 1, 1)
	assert.True(t, l.RatedWarn(1, "first"))
	assert.False(t, l.RatedWarn(1, "second"))

	// With 继承限流分组。
	child := l.With(zap.Int("n", 1))
	assert.False(t, child.RatedInfo(1, "third"))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	custom := With(FieldComponent("engine"))
	b.SetLogger(custom)
	assert.Same(t, custom, b.Logger())

	b.Bind("serde-pool")
	assert.NotSame(t, custom, b.Logger())
}

func TestLazyCoreAddsFieldsOnWrite(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(newLazyCore(core, []zap.Field{FieldComponent("serde-engine")}))

	l.Debug("dropped")
	l.Info("kept", zap.Int("n", 1))
	l.With(zap.String("pool", "default")).Warn("derived")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "serde-engine", entries[0].ContextMap()[FieldNameComponent])
	assert.EqualValues(t, 1, entries[0].ContextMap()["n"])
	assert.Equal(t, "default", entries[1].ContextMap()["pool"])
	assert.Equal(t, "serde-engine", entries[1].ContextMap()[FieldNameComponent])
}
