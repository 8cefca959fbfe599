package log

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// lazyCore 推迟 core.With 的字段编码，直到第一条日志真正写出。
// 引擎和池在构造时就派生 Logger，大多数实例从不打日志。
type lazyCore struct {
	base  zapcore.Core
	bound func() zapcore.Core
}

var _ zapcore.Core = (*lazyCore)(nil)

func newLazyCore(core zapcore.Core, fields []zapcore.Field) zapcore.Core {
	if len(fields) == 0 {
		return core
	}
	return &lazyCore{
		base:  core,
		bound: sync.OnceValue(func() zapcore.Core { return core.With(fields) }),
	}
}

func (c *lazyCore) Enabled(level zapcore.Level) bool {
	return c.base.Enabled(level)
}

func (c *lazyCore) With(fields []zapcore.Field) zapcore.Core {
	return c.bound().With(fields)
}

func (c *lazyCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.base.Enabled(e.Level) {
		return ce
	}
	return c.bound().Check(e, ce)
}

func (c *lazyCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.bound().Write(e, fields)
}

func (c *lazyCore) Sync() error {
	return c.bound().Sync()
}
